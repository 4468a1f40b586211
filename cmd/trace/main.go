package main

import (
	"os"

	"github.com/wonny/newstrace/backend/cmd/trace/commands"
)

// main is the entry point for the NewsTrace CLI
// ⭐ SSOT: the unified CLI entry point: go run ./cmd/trace [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
