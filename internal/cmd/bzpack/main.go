// Command bzpack compresses stdin to stdout as a bzip2 stream.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xuwei6688/bzpipe"
	"github.com/xuwei6688/bzpipe/internal/cmd/app"
)

func main() {
	var (
		level     = flag.Int("level", bzpipe.MaxBlockSizeMultiplier, "block size multiplier (1-9)")
		chunkSize = flag.Int("chunk", 64*1024, "read chunk size")
	)
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger) error {
		s, err := bzpipe.NewStream(bzpipe.NewWriterSink(os.Stdout), bzpipe.StreamOptions{
			BlockSizeMultiplier: *level,
			Logger:              lg,
		})
		if err != nil {
			return errors.Wrap(err, "stream")
		}

		start := time.Now()
		var total uint64
		buf := make([]byte, *chunkSize)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				total += uint64(n)
				if err := s.Write(buf[:n]).Wait(ctx); err != nil {
					return errors.Wrap(err, "write")
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.Wrap(err, "read")
			}
		}
		if err := s.Close().Wait(ctx); err != nil {
			return errors.Wrap(err, "close")
		}

		lg.Info("Done",
			zap.String("read", humanize.Bytes(total)),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	})
}
