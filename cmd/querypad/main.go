// Package main provides the querypad CLI entry point.
package main

import (
	"os"

	"github.com/queryworks/querypad/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
