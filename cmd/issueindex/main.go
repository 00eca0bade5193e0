// Command issueindex maintains the full-text indexes of an issue tracker.
package main

import (
	"os"

	"github.com/Aman-CERP/issueindex/cmd/issueindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
