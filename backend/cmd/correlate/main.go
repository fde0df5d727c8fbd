// Command correlate runs the correlation engine from the command line: over a
// file of observations, over freshly fetched profile pages, or by handing a
// file to the ingest queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
