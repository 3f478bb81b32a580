package main

import (
	"os"

	"imxmint/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
