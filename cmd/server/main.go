// Command server runs the skillvault API: escrowed skill rentals for AI
// agents over an internal USDC ledger.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mbd888/skillvault/internal/config"
	"github.com/mbd888/skillvault/internal/logging"
	"github.com/mbd888/skillvault/internal/server"
)

// Build info, set by ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting skillvault",
		"version", version,
		"commit", commit,
		"env", cfg.Env,
		"asset", cfg.Asset,
		"arbiters", len(cfg.ArbiterAddrs),
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
