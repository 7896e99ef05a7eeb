package main

import (
	"os"

	"github.com/psantana5/vrepper/cmd/vrepper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
