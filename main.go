package main

import (
	"os"

	"github.com/intelligrit/quakesafe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
