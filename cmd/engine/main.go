// Command engine is the host process for the plugin runtime: it discovers
// plugins under its configured plugins directory, supervises their
// processes, and dispatches execute/input calls into them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
