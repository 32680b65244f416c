// Package main is the entry point for the tunneld binary.
//
// tunneld supervises a set of SSH port-forwarding tunnels: each forward runs
// as its own ssh child process, is health-checked on a fixed interval, and is
// restarted with exponential backoff when it fails repeatedly.
//
// Usage:
//
//	tunneld start              # start and supervise all configured tunnels
//	tunneld check              # preflight diagnostics for the configuration
//	tunneld print-cmd          # show the ssh command per forward
//	tunneld events --limit 20  # inspect the lifecycle journal
package main

import (
	"fmt"
	"os"

	"github.com/tunneld/tunneld/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
