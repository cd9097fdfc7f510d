// Command bdbdump opens a single .bdb file read-only and prints its header,
// footer, and entry stream. It is a read-only inspection tool: it never
// writes to the file it opens.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/browserdb/browserdb/internal/logging"
	"github.com/browserdb/browserdb/sstable"
)

func main() {
	showEntries := flag.Bool("entries", false, "print every record in the file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-entries] <path-to-.bdb>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	tbl, err := sstable.Load(path, logging.Discard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bdbdump: %v\n", err)
		os.Exit(1)
	}
	defer tbl.Close()

	h := tbl.Header()
	f := tbl.Footer()

	fmt.Printf("path:            %s\n", tbl.Path())
	fmt.Printf("table type:      %s\n", tbl.TableType())
	fmt.Printf("level:           %d\n", tbl.Level())
	fmt.Printf("version:         %d\n", h.Version)
	fmt.Printf("created at:      %d ms\n", h.CreatedAt)
	fmt.Printf("modified at:     %d ms\n", h.ModifiedAt)
	fmt.Printf("compression:     %s\n", tbl.Compression())
	fmt.Printf("encryption:      %d\n", h.Encryption)
	fmt.Println()
	fmt.Printf("entry count:     %d\n", f.EntryCount)
	fmt.Printf("file size:       %d bytes\n", f.FileSize)
	fmt.Printf("data offset:     %d\n", f.DataOffset)
	fmt.Printf("max entry size:  %d bytes\n", f.MaxEntrySize)
	fmt.Printf("total key size:  %d bytes\n", f.TotalKeySize)
	fmt.Printf("total val size:  %d bytes\n", f.TotalValueSize)
	fmt.Printf("compress ratio:  %.2f%%\n", float64(f.CompressionRatioX100)/100)
	fmt.Printf("corruption:      %d entries\n", tbl.CorruptionCount())
	fmt.Printf("key range:       %q .. %q\n", tbl.MinKey(), tbl.MaxKey())

	if !*showEntries {
		return
	}

	fmt.Println()
	fmt.Println("entries:")
	for _, r := range tbl.All() {
		if r.Deleted() {
			fmt.Printf("  %-30q <tombstone> ts=%d\n", r.Key, r.Timestamp)
			continue
		}
		fmt.Printf("  %-30q -> %q ts=%d\n", r.Key, r.Value, r.Timestamp)
	}
}
