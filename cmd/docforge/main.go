// docforge is a document knowledge service: it ingests dropped files
// through an async processing pipeline and serves hybrid search over
// the indexed chunks.
package main

import (
	"fmt"
	"os"

	"github.com/docforge/docforge/cmd/docforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
