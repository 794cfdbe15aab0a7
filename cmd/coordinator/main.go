package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os/signal"
	"syscall"
	"watchpost/config"
	"watchpost/internals/app"
	"watchpost/internals/server"
	"watchpost/pkg/db"
	"watchpost/pkg/logger"
)

func main() {
	// Load envs
	cfg, err := config.LoadConfig("env.yaml")
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	// Context tied to SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize base logger
	log := logger.Init(cfg)
	log.Info().Msg("logger initialized")

	// Initialize DB pool
	dbPool, err := db.ConnectToDB(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize db pool")
	}

	// Inject dependencies
	container, err := app.NewContainer(ctx, dbPool, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	log.Info().Msg("dependencies initialized")

	// The dispatch loop is not started here: the registry lifecycle hooks
	// start it when the first agent connects and stop it when the last one
	// leaves.

	// Register routes and start HTTP server
	router := app.RegisterRoutes(container)

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), router, log)
	srv.Start()

	<-ctx.Done() // wait for shutdown signal
	log.Info().Msg("shutdown signal received")

	// 1. Stop HTTP server (stop accepting requests and agent channels)
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	// 2. Shutdown background loop & infra
	if err := container.Shutdown(); err != nil {
		log.Error().Err(err).Msg("dependencies shutdown failed")
	}

	log.Info().Msg("graceful shutdown complete")
}
