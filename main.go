package main

import (
	"os"

	"github.com/probescope/probescope/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
