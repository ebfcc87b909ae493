// Package main is the entry point for the gosession command.
package main

import (
	"os"

	"github.com/MrEthical07/goSession/cmd/gosession/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
