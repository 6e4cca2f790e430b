// Command storyline clusters annotated news documents into threads and
// serves them ranked by importance.
//
// Usage:
//
//	storyline serve              Build on a schedule and serve HTTP
//	storyline build              One-shot build, print threads as JSON
//	storyline import <file>      Load JSONL documents into the store
//	storyline top                One-shot build and browse in the terminal
//	storyline events             JSONL event log viewer
package main

import (
	"os"

	"github.com/abelbrown/storyline/internal/logging"
)

func main() {
	err := rootCmd.Execute()
	logging.Close()
	if err != nil {
		logging.Error("command failed", "err", err)
		os.Exit(1)
	}
}
