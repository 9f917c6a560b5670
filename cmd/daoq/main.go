package main

import (
	"os"

	"github.com/quasar-finance/daoresolve/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
