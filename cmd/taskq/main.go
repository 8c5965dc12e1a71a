package main

import (
	"fmt"
	"os"

	"taskq/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskq:", err)
		os.Exit(1)
	}
}
