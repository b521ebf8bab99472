// Command sessionctl runs a goSession manager as a small HTTP API or drives
// it with a synthetic load burst.
//
// Both subcommands default to miniredis storage and can target a built-in
// mock provider, so no external services are required:
//
//	go run ./cmd/sessionctl serve --mock-provider
//	go run ./cmd/sessionctl loadtest --owners 200 --concurrency 32
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
