package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/katunilya/surge/internal/cli"
)

// Main is the entry point for the application
// It's exported to make it testable
func Main() int {
	err := cli.Execute()
	if err != nil && !errors.Is(err, cli.ErrInterrupted) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func main() {
	os.Exit(Main())
}
