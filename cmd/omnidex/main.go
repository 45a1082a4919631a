// Package main provides the entry point for the omnidex CLI.
package main

import (
	"os"

	"github.com/omnidex-search/omnidex/cmd/omnidex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
