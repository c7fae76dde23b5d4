// Package main provides the entry point for the hol CLI.
package main

import (
	"os"

	"github.com/davidmcclure/history-of-literature/cmd/hol/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
