// Package main provides segmap-bench, a command-line load generator for
// segmap maps.
//
// It fills a map from concurrent workers, verifies it, and runs a mixed
// read/write workload, optionally exposing map statistics on a Prometheus
// /metrics endpoint while it runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
