// Command historywalk prints an address's history rows, newest first.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ledgerforge/blockstore/historydb"
	"github.com/ledgerforge/blockstore/internal/diagcli"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := diagcli.NewFlagSet("historywalk")
	dir := fs.String("dir", "", "database directory")
	address := fs.String("address", "", "short hash address (hex, 20 bytes)")
	limit := fs.Int("limit", 0, "maximum rows to print (0 = unbounded)")
	fromHeight := fs.Uint32("from-height", 0, "skip rows below this height")

	if err := fs.Parse(args[1:]); err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *dir == "" || *address == "" {
		diagcli.Fprintf(stderr, "error: --dir and --address are required\n")
		return 1
	}

	addr, err := diagcli.DecodeAddress20(*address)
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

	rows, err := store.History().Get(addr, *limit, *fromHeight)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	for _, row := range rows {
		kind := "output"
		if row.Kind == historydb.KindSpend {
			kind = "spend"
		}

		fmt.Fprintf(stdout, "%s height=%d point=%s:%d value_or_checksum=%d\n",
			kind, row.Height, hex.EncodeToString(row.Point.Hash[:]), row.Point.Index, row.ValueOrChecksum)
	}

	return 0
}
