package main

import (
	"os"

	"github.com/conneroisu/htmlforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
