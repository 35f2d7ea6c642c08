package main

import (
	"os"

	"github.com/iliyamo/meal-quota/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
