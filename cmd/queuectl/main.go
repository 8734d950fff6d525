package main

import (
	"os"

	"queuectl/internal/cli"
	"queuectl/internal/pool"
	"queuectl/internal/workerchild"
)

func main() {
	// Worker children are this same binary re-exec'd with a hidden argv
	// instead of a normal subcommand, so they never go through cobra.
	if len(os.Args) > 1 && os.Args[1] == pool.WorkerArg {
		if err := workerchild.Run(os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		return
	}

	cli.Execute()
}
