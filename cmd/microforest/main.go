// Command microforest converts datasets, trains quantized random forests and
// runs inference against exported forest files.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "microforest:", err)
		os.Exit(1)
	}
}
