// Command worker runs the Kafka extraction worker on its own, for
// deployments that ship it as a separate image. It accepts the same global
// flags as "lexextract worker".
package main

import (
	"os"

	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Version, cli.GitCommit, cli.BuildDate = version, commit, buildDate

	root := cli.NewRootCommand()
	root.SetArgs(append([]string{"worker"}, os.Args[1:]...))
	if err := root.Execute(); err != nil {
		cli.PrintError(root, err)
		os.Exit(1)
	}
}

//Personal.AI order the ending
