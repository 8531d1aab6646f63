// Package main is the statlake command.
package main

import (
	"os"

	"github.com/leapstack-labs/statlake/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
