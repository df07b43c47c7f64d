package main

import (
	"fmt"
	"os"

	"github.com/petal-labs/storyline/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	root := cli.NewRootCmd(nil)
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("storyline version %s\n", version))

	if err := root.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
