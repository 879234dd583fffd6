// grammargen compiles a directory of tree-sitter grammars into static
// archives and generates the Go bindings that link them.
package main

import (
	"os"

	"github.com/corey/grammargen/cmd/grammargen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
