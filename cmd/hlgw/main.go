package main

import (
	"os"

	"github.com/quietgrid/hlgateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
