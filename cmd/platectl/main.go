package main

import (
	"os"

	"github.com/platewatch/platewatch/cmd/platectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
