// Command evalrun runs and repairs evaluation experiments: it dispatches
// generation and scoring tasks, drains them with a worker pool and
// re-enqueues the work that failed or went missing.
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
