// Package main is the entry point of the paprika CLI.
//
// Usage:
//
//	paprika [flags] <command> [subcommand] [args]
//
// Commands:
//
//	serve      - Run the websocket gateway
//	run        - Run one decision cycle for a perception file
//	memory     - Inspect and add memories (recent, search, add)
//	skill      - Inspect and add skills (search, show, put)
//	tools      - List, document and call planning functions
//	config     - Show the effective configuration
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/paprika-agent/paprika/cmd/paprika/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
