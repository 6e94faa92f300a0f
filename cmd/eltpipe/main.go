// Package main provides the eltpipe command.
package main

import (
	"os"

	"github.com/leapstack-labs/eltpipe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
