package main

import (
	"fmt"
	"os"

	"github.com/snaptexdev/snaptex/cmd/snaptex/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
