// Package diagcli provides the shared scaffolding for the read-only
// diagnostic commands (cmd/blockdump, cmd/txinspect, cmd/spendinspect,
// cmd/historywalk): flag parsing conventions and hex-codec helpers.
//
// Grounded on the teacher's internal/cli/run.go: a `Run(args, stdout,
// stderr) int` entry point built on github.com/spf13/pflag, returning a
// process exit code rather than calling os.Exit directly so tests can
// drive it.
package diagcli

import (
	"encoding/hex"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/ledgerforge/blockstore/chainstore"
)

// NewFlagSet returns a pflag.FlagSet configured the way every diagnostic
// command configures its own: errors reported by the caller, not printed
// twice.
func NewFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {}

	return fs
}

// OpenReadOnly attaches to an existing database directory. Diagnostic
// tools never call Create: they inspect a database a writer process has
// already initialized.
func OpenReadOnly(dir string) (*chainstore.Store, error) {
	store, err := chainstore.New(dir)
	if err != nil {
		return nil, err
	}

	if err := store.Start(); err != nil {
		return nil, err
	}

	return store, nil
}

// DecodeHash32 parses a hex string into a 32-byte array, left-padding
// with zero bytes if short.
func DecodeHash32(s string) ([32]byte, error) {
	var out [32]byte

	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex %q: %w", s, err)
	}

	if len(b) > 32 {
		return out, fmt.Errorf("hash %q longer than 32 bytes", s)
	}

	copy(out[32-len(b):], b)

	return out, nil
}

// DecodeAddress20 parses a hex string into a 20-byte array.
func DecodeAddress20(s string) ([20]byte, error) {
	var out [20]byte

	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex %q: %w", s, err)
	}

	if len(b) > 20 {
		return out, fmt.Errorf("address %q longer than 20 bytes", s)
	}

	copy(out[20-len(b):], b)

	return out, nil
}

// Fprintf is a tiny indirection that writes to w and discards the write
// error, so commands need not handle it at every call site.
func Fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
