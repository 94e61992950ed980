// Command txinspect prints a stored transaction's confirmation height,
// index within its block, and raw bytes, looked up by hash.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ledgerforge/blockstore/internal/diagcli"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := diagcli.NewFlagSet("txinspect")
	dir := fs.String("dir", "", "database directory")
	hash := fs.String("hash", "", "transaction hash (hex)")

	if err := fs.Parse(args[1:]); err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *dir == "" || *hash == "" {
		diagcli.Fprintf(stderr, "error: --dir and --hash are required\n")
		return 1
	}

	h, err := diagcli.DecodeHash32(*hash)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	store, err := diagcli.OpenReadOnly(*dir)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Stop() }()

	res, found, err := store.Transactions().Get(h)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if !found {
		diagcli.Fprintf(stderr, "not found\n")
		return 1
	}

	fmt.Fprintf(stdout, "height: %d\n", res.Height)
	fmt.Fprintf(stdout, "index_in_block: %d\n", res.IndexInBlock)
	fmt.Fprintf(stdout, "tx: %s\n", hex.EncodeToString(res.Tx))

	return 0
}
