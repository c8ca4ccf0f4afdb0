package main

// Package main is the entry point for the kubilitics guardrail service.
//
// Commands:
//   - serve:    run the HTTP tool facade over the guardrail executor
//   - policy:   print the effective guardrail policy
//   - evaluate: check a single action against the policy without side effects
//   - version:  print build information
//
// Graceful Shutdown (serve):
//   - Stops accepting HTTP requests and waits for in-flight calls
//   - Drains queued audit entries to the file and SQLite mirrors

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
