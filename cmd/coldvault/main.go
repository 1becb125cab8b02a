// Command coldvault operates a client-side deduplicating, encrypted
// backup repository: purging path ranges out of fileset history,
// compacting the resulting sparse dblock volumes, and verifying and
// repairing catalog/remote consistency.
package main

import (
	"fmt"
	"os"

	"github.com/coldvault/coldvault/cmd/coldvault/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
