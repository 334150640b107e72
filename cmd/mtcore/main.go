package main

import (
	"os"

	"github.com/opd-ai/mtcore/cmd/mtcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
