// Command vramd serves the GPU arbiter and chat API, and offers a few client
// subcommands for operating a running instance.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vramd:", err)
		os.Exit(1)
	}
}
