package main

import (
	"os"

	"github.com/fleetward/fleetward/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
