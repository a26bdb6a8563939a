// Package main is the entry point for the enginehub CLI.
//
// Usage:
//
//	enginehub [flags] <command> [subcommand] [args]
//
// Commands:
//
//	model      - Build and inspect keyword models
//	instances  - List configured instances
//	detect     - Run keyword detection over a WAV file
//	enroll     - Enroll a speaker from a WAV file
//	verify     - Verify a speaker against enrolled targets
//	cluster    - Push to and verify against embedding clusters
//	export     - Export enrolled targets to local disk or S3
//	serve      - Serve enrollment, verification and metrics over HTTP
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/frymanofer/enginehub/cmd/enginehub/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
