// Command snapshotctl is the operator CLI for the listing snapshot service.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
