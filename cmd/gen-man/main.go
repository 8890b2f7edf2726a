package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra/doc"

	"github.com/suykerbuyk/flowsmith/internal/cli"
)

func main() {
	dir := "man"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "gen-man: %v\n", err)
		os.Exit(1)
	}

	root := cli.NewRootCmd()
	root.DisableAutoGenTag = true
	header := &doc.GenManHeader{
		Title:   "FLOWSMITH",
		Section: "1",
		Source:  "flowsmith " + cli.Version,
		Manual:  "flowsmith manual",
	}
	if err := doc.GenManTree(root, header, dir); err != nil {
		fmt.Fprintf(os.Stderr, "gen-man: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  man pages written to %s\n", dir)
}
