package main

import (
	"os"

	"github.com/spoutfi/spout-cli/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
