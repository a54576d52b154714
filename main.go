package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"portsweep/api"
	"portsweep/cli"
	"portsweep/config"
	"portsweep/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "serve" {
		logger := logging.Configure(os.Stdout, cfg.LogLevel)
		if err := api.Run(ctx, cfg, logger); err != nil {
			logger.Error("api server stopped", "error", err)
			os.Exit(cli.ExitFailure)
		}
		return
	}

	logger := logging.Configure(os.Stderr, cfg.LogLevel)
	code := cli.Run(ctx, os.Args[1:], cli.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
		Config: cfg,
	})
	stop()
	os.Exit(code)
}
