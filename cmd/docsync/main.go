package main

import (
	"os"

	"github.com/solatis/docsync/cmd/docsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
