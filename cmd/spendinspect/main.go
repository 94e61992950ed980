// Command spendinspect reports whether a given outpoint has been spent,
// and if so, by which input.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ledgerforge/blockstore/internal/diagcli"
	"github.com/ledgerforge/blockstore/spenddb"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := diagcli.NewFlagSet("spendinspect")
	dir := fs.String("dir", "", "database directory")
	hash := fs.String("hash", "", "outpoint transaction hash (hex)")
	index := fs.Uint32("index", 0, "outpoint index")

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

	spender, found, err := store.Spends().Get(spenddb.OutPoint{Hash: h, Index: *index})
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintln(stdout, "unspent")
		return 0
	}

	fmt.Fprintf(stdout, "spent_by: %s:%d\n", hex.EncodeToString(spender.Hash[:]), spender.Index)

	return 0
}
