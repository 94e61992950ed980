// Command blockdump prints a stored block's header and transaction hash
// list, looked up by height or by hash.
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
	fs := diagcli.NewFlagSet("blockdump")
	dir := fs.String("dir", "", "database directory")
	height := fs.Uint32("height", 0, "block height to look up")
	hash := fs.String("hash", "", "block hash (hex) to look up")
	useHeight := fs.Changed

	if err := fs.Parse(args[1:]); err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *dir == "" {
		diagcli.Fprintf(stderr, "error: --dir is required\n")
		return 1
	}

	store, err := diagcli.OpenReadOnly(*dir)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Stop() }()

	if useHeight("hash") && *hash != "" {
		h, err := diagcli.DecodeHash32(*hash)
		if err != nil {
			diagcli.Fprintf(stderr, "error: %v\n", err)
			return 1
		}

		res, found, err := store.Blocks().GetByHash(h)
		if err != nil {
			diagcli.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		if !found {
			diagcli.Fprintf(stderr, "not found\n")
			return 1
		}

		printBlock(stdout, res.Header, res.Height, res.TxCount, res)
		return 0
	}

	res, found, err := store.Blocks().GetByHeight(*height)
	if err != nil {
		diagcli.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if !found {
		diagcli.Fprintf(stderr, "not found\n")
		return 1
	}

	printBlock(stdout, res.Header, res.Height, res.TxCount, res)

	return 0
}

type txHashLookup interface {
	TxHash(i int) ([32]byte, error)
}

func printBlock(w io.Writer, header [80]byte, height, txCount uint32, hashes txHashLookup) {
	fmt.Fprintf(w, "height: %d\n", height)
	fmt.Fprintf(w, "header: %s\n", hex.EncodeToString(header[:]))
	fmt.Fprintf(w, "tx_count: %d\n", txCount)

	for i := uint32(0); i < txCount; i++ {
		h, err := hashes.TxHash(int(i))
		if err != nil {
			fmt.Fprintf(w, "  tx[%d]: error: %v\n", i, err)
			continue
		}

		fmt.Fprintf(w, "  tx[%d]: %s\n", i, hex.EncodeToString(h[:]))
	}
}
