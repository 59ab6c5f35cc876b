// Command settlewatch runs the settlement API server and its client tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/settlewatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
