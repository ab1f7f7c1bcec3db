package main

import (
	"os"

	"github.com/feltdbg/feltdbg/cmd/feltdbg/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
