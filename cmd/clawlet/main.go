// Package main is the entry point for the clawlet CLI.
package main

import (
	"os"

	"github.com/KafClaw/clawlet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
