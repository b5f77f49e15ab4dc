package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veilpay-hq/relayer/pkg/config"
	"github.com/veilpay-hq/relayer/pkg/logger"
	"github.com/veilpay-hq/relayer/pkg/relayer"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, err := relayer.NewService(cfg, stdLogger)
	if err != nil {
		log.Fatalf("Failed to create relayer service: %v", err)
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	stdLogger.Info("Starting the relayer service...")
	service.Start(ctx)
}
