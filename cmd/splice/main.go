// Command splice assembles IR methods, composes patches from a manifest
// into them and runs them.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
