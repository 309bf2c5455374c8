package main

import (
	"os"

	"github.com/strydelabs/hrrscan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
