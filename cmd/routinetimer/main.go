package main

import (
	"os"

	"github.com/korjavin/routinetimer/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
