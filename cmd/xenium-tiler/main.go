// Package main is the entry point for the xenium-tiler command.
package main

import (
	"os"

	"github.com/soma-tiles/xenium-tiler/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
