package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/olegiv/gerrit-repo-stats/internal/cli"
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.Execute(ctx, cli.BuildInfo{
		Version:   version,
		Commit:    gitCommit,
		BuildTime: buildTime,
	})
}
