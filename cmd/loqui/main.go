// Command loqui compiles front-end IR documents into Go programs backed
// by the replicated-state runtime.
package main

import (
	"fmt"
	"os"

	"github.com/loqui-lang/loqui/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loqui:", err)
		os.Exit(1)
	}
}
