// Package main provides the entry point for the novad server.
package main

import (
	"fmt"
	"os"

	"github.com/nova-run/novad/cmd/novad/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
