package main

import (
	"os"

	"github.com/tracely/pulse/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
