package main

import (
	"os"

	"goflare.io/tierbench/cmd/tierbench/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
