package main

import (
	"os"

	"wasock/cmd/wasock/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
