// Package main is the entry point for the thenoted daemon CLI.
//
// Usage:
//
//	thenoted serve --config thenoted.yaml
//	thenoted telemetry --addr http://localhost:8080
package main

import (
	"fmt"
	"os"

	"github.com/thenote/backend/cmd/thenoted/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
