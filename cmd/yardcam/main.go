package main

import (
	"fmt"
	"os"

	"github.com/roach88/yardcam/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "yardcam:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
