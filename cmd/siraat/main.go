package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/siraat/companion/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Cancelled on SIGINT or SIGTERM; `serve` shuts down gracefully on it.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, version)
	cancel()
	os.Exit(code)
}
