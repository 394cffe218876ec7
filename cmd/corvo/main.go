package main

import (
	"os"

	"github.com/mbakri/corvo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
