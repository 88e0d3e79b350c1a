// Command stagehand builds a static output tree from a source tree by
// running a pipeline definition.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/stagehand/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands print their own failures; flag and argument errors are not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
