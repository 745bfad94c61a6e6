package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/lucasnoah/ymir/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, cli.ErrorMessage(err))
		os.Exit(1)
	}
}
