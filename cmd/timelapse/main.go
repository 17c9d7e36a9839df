// Package main is the entry point for the timelapse CLI client.
package main

import (
	"os"

	"github.com/rybkr/timelapse/internal/cli"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	root := cli.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
