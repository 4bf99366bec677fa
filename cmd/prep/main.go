package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/memeprep/internal/cli"
	"github.com/timmy/memeprep/internal/logger"
)

func main() {
	envCfg := logger.LoadFromEnv("prep")
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Cancel stages between batches on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(appLogger.WithContext(ctx)); err != nil {
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}
