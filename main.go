// Package main provides the entry point for the evm-stress command.
package main

import (
	"os"

	"evm-stress/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
