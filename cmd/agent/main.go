// Package main is the entry point for the compliance agent.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/easeaico/adk-compliance-agent/internal/cli"
)

var version = "dev"

func main() {
	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Run(ctx, os.Args, version); err != nil {
		cancel()
		os.Exit(1)
	}
}
