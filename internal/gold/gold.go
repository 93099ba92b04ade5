// Package gold implements golden files.
package gold

import (
	"bytes"
	"encoding/hex"
	"flag"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const defaultDir = "_golden"

// Update reports whether golden files update is requested.
//
// Call Init() in TestMain to propagate.
var Update bool

// Init should be called in TestMain.
func Init() {
	flag.BoolVar(&Update, "update", false, "update golden files")
}

// Path returns path to golden file.
func Path(elems ...string) string {
	return filepath.Join(
		append([]string{defaultDir}, elems...)...,
	)
}

// ReadFile reads golden file.
func ReadFile(t testing.TB, elems ...string) []byte {
	t.Helper()

	p := Path(elems...)
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("golden file %s: %+v", path.Join(elems...), err)
	}

	return data
}

func writeFile(t testing.TB, data []byte, elems ...string) {
	t.Helper()

	p := Path(elems...)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func normalizeName(t testing.TB, name ...string) []string {
	if len(name) > 0 {
		return name
	}
	// Derive file name from test name.
	elems := strings.Split(t.Name(), "/")
	for i := range elems {
		elems[i] = strings.ReplaceAll(elems[i], " ", "_")
	}
	return elems
}

// Bytes checks data against the golden file, updating it when -update is
// set.
func Bytes(t testing.TB, data []byte, name ...string) {
	t.Helper()

	name = normalizeName(t, name...)
	if Update {
		writeFile(t, data, name...)
	}
	expected := ReadFile(t, name...)
	if !bytes.Equal(expected, data) {
		require.Equal(t, hex.Dump(expected), hex.Dump(data), "golden file mismatch")
	}
}

// Str checks string against the golden file.
func Str(t testing.TB, s string, name ...string) {
	t.Helper()

	name = normalizeName(t, name...)
	if Update {
		writeFile(t, []byte(s), name...)
	}
	require.Equal(t, string(ReadFile(t, name...)), s, "golden file mismatch")
}
