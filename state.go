package bzpipe

//go:generate go run github.com/dmarkham/enumer -type State -trimprefix State -output state_gen.go

// State of the stream encoder.
type State byte

// Encoder states. The Init through CloseBlock loop is driven by Encode;
// Finished is entered only through Finish.
const (
	StateInit State = iota
	StateInitBlock
	StateWriteData
	StateCloseBlock
	StateFinished
)
