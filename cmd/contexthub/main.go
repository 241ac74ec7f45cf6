// Command contexthub runs the contexthub document node CLI: serve,
// compress, restore, and route.
package main

import (
	"fmt"
	"os"

	"github.com/jra3/contexthub/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
