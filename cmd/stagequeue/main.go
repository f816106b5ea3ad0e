package main

import (
	"os"

	"github.com/davidroman0O/stagequeue/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
