// Package main is the entry point for the abrhls command.
package main

import (
	"os"

	"github.com/jmylchreest/abrhls/cmd/abrhls/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
