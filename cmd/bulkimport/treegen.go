package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/bulkimport/source"
	"github.com/urfave/cli/v2"
)

var fillerLines = []string{
	"The quick brown fox jumps over the lazy dog.",
	"A gentle breeze rustled the leaves of the old oak tree.",
	"She found a hidden key in the dusty attic.",
	"The ancient library held stories that never faded.",
	"The lighthouse beam cut through fog, guiding sailors safely.",
	"Documentation exists in a superposition until observed.",
	"The cache invalidation problem solved itself out of spite.",
	"The mutex died of loneliness.",
}

func treegenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "folders",
			Usage: "Folders per level",
			Value: 3,
		},
		&cli.IntFlag{
			Name:  "files",
			Usage: "Files per folder",
			Value: 10,
		},
		&cli.IntFlag{
			Name:  "depth",
			Usage: "Folder nesting depth",
			Value: 3,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: dir writes a directory tree, csv writes an import feed",
			Value: "dir",
		},
	}
}

func treegenCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one output path, got %d", c.NArg())
	}
	out := c.Args().First()

	folders, files, depth := c.Int("folders"), c.Int("files"), c.Int("depth")
	if folders < 0 || files < 0 || depth < 0 {
		return fmt.Errorf("folders, files and depth must not be negative")
	}
	tree := source.GenerateTree(folders, files, depth)

	var stats treeStats
	var err error
	switch c.String("format") {
	case "dir":
		stats, err = writeTreeDir(out, tree)
	case "csv":
		stats, err = writeTreeCSV(out, tree)
	default:
		return fmt.Errorf("unknown format %q: must be dir or csv", c.String("format"))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Wrote %s folders and %s files (%s) to %s\n",
		humanize.Comma(stats.folders), humanize.Comma(stats.files), humanize.Bytes(uint64(stats.bytes)), out)
	return nil
}

type treeStats struct {
	folders int64
	files   int64
	bytes   int64
}

// walkEntries returns an iterator over entries in walk order, keyed by their
// slash separated path relative to the tree root.
func walkEntries(entries []source.Entry) iter.Seq2[string, source.Entry] {
	return func(yield func(string, source.Entry) bool) {
		walkEntriesUnder("", entries, yield)
	}
}

func walkEntriesUnder(dir string, entries []source.Entry, yield func(string, source.Entry) bool) bool {
	for _, e := range entries {
		p := path.Join(dir, e.Name)
		if !yield(p, e) {
			return false
		}
		if e.Container && !walkEntriesUnder(p, e.Children, yield) {
			return false
		}
	}
	return true
}

func writeTreeDir(root string, tree []source.Entry) (treeStats, error) {
	var stats treeStats
	if err := os.MkdirAll(root, 0o755); err != nil {
		return stats, err
	}

	for rel, e := range walkEntries(tree) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if e.Container {
			if err := os.MkdirAll(p, 0o755); err != nil {
				return stats, err
			}
			stats.folders++
			continue
		}
		if err := writeFiller(p, e.Size); err != nil {
			return stats, err
		}
		stats.files++
		stats.bytes += e.Size
	}
	return stats, nil
}

// writeFiller writes a text file of exactly size bytes.
func writeFiller(name string, size int64) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	var written int64
	for i := 0; written < size; i++ {
		line := fillerLines[i%len(fillerLines)] + "\n"
		if remaining := size - written; int64(len(line)) > remaining {
			line = line[:remaining]
		}
		n, err := w.WriteString(line)
		written += int64(n)
		if err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeTreeCSV(name string, tree []source.Entry) (treeStats, error) {
	var stats treeStats
	f, err := os.Create(name)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{source.ColumnName, source.ColumnType, "size"}); err != nil {
		return stats, err
	}
	for rel, e := range walkEntries(tree) {
		size := ""
		if e.Container {
			stats.folders++
		} else {
			stats.files++
			stats.bytes += e.Size
			size = strconv.FormatInt(e.Size, 10)
		}
		if err := w.Write([]string{rel, e.Type, size}); err != nil {
			return stats, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return stats, err
	}
	return stats, f.Close()
}
