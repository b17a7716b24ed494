// Command alumet-agent samples hardware and OS energy/performance
// counters and forwards them to configured sinks (spec.md §1).
package main

import (
	"fmt"
	"os"

	"alumet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
