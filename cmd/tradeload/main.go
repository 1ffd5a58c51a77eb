// Command tradeload loads customs trade extracts into a warehouse schema
// incrementally: only partitions that are new or whose row counts drifted
// are replaced.
package main

import (
	"os"

	// register all backends with the storage factory.
	_ "tradeload/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has printed the error.
		os.Exit(1)
	}
}
