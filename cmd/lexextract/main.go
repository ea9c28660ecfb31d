// ---
// cmd/lexextract/main.go
// lexextract 命令行入口：注入构建信息后交由 internal/interfaces/cli 执行。
// ---
package main

import (
	"os"

	"github.com/turtacn/LexExtract-Intelligence/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

//Personal.AI order the ending
