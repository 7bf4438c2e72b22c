package main

import (
	"os"

	"github.com/rustyeddy/dtcterm/cmd/dtcterm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
