package main

import (
	"fmt"
	"os"

	"regionsim.ai/cmd/gridctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gridctl:", err)
		os.Exit(1)
	}
}
