// Command 1mcp is the aggregator's entrypoint: a thin cobra CLI around
// the run/config/healthcheck operations.
package main

import (
	"fmt"
	"os"

	"github.com/1mcp-app/agent/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Logf("1mcp: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
