// Command lsmkv is a small interactive-adjacent driver over the
// engine package: put/get/flush/stats against a data directory. It is
// the external collaborator the engine's core deliberately excludes —
// it never reaches into internal engine state, only the public API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rvarma-dev/lsmkv/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]

	fs := flag.NewFlagSet("lsmkv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "data", "data directory (WAL + SSTables live here)")
	threshold := fs.Int("threshold", 1<<20, "memtable flush threshold in bytes")
	fpp := fs.Float64("fpp", 0.01, "target bloom filter false-positive probability")
	verbose := fs.Bool("verbose", false, "log filter hit/miss and flush/recovery diagnostics")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	args := fs.Args()

	e, err := engine.OpenWithOptions(engine.Options{
		DataDir:                *dir,
		MemtableThresholdBytes: *threshold,
		BloomFPP:               *fpp,
		Verbose:                *verbose,
	})
	if err != nil {
		fatal(err)
	}
	defer func() { _ = e.Close() }()

	switch cmd {
	case "put":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := e.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "get":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		v, ok := e.Get([]byte(args[0]))
		if !ok {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		fmt.Println(string(v))
	case "flush":
		if err := e.Flush(); err != nil {
			fatal(err)
		}
		fmt.Println("ok")
	case "stats":
		stats := e.BloomFilterStats()
		fmt.Printf("memtable entries: %d\n", e.Len())
		fmt.Printf("sstables: %d\n", e.SSTableCount())
		fmt.Printf("filter skips: %d, proceeds: %d, skip_rate: %.4f\n", stats.Skips, stats.Proceeds, stats.SkipRate)
		for i, pf := range stats.PerFilter {
			fmt.Printf("  sstable[%d]: bits=%d hashes=%d items=%d estimated_fpp=%.6f\n",
				i, pf.Bits, pf.Hashes, pf.Items, pf.EstimatedFPP)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] put <key> <value>")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] get <key>")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] flush")
	fmt.Fprintln(os.Stderr, "  lsmkv [flags] stats")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -dir        data directory (default: data)")
	fmt.Fprintln(os.Stderr, "  -threshold  memtable flush threshold in bytes (default: 1MiB)")
	fmt.Fprintln(os.Stderr, "  -fpp        target bloom filter false-positive probability (default: 0.01)")
	fmt.Fprintln(os.Stderr, "  -verbose    log filter hit/miss and flush/recovery diagnostics")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
