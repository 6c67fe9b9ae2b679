// Command discovery runs the squeeze discovery service and its one-shot
// maintenance commands.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
