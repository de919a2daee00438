package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/api"
	"github.com/minelink/minelink/internal/config"
	"github.com/minelink/minelink/internal/database"
	"github.com/minelink/minelink/internal/discord"
	"github.com/minelink/minelink/internal/fetch"
	"github.com/minelink/minelink/internal/jobs"
	"github.com/minelink/minelink/internal/linking"
	"github.com/minelink/minelink/internal/rpc"
	"github.com/minelink/minelink/internal/verification"
)

func main() {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "development" {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	log := logrus.NewEntry(logger)

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database connection")
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	// Wire the linking pipeline
	fetchClient := fetch.NewClient(log)
	tokens := discord.NewTokenService(fetchClient, cfg.Discord, log)
	directory := discord.NewDirectory(fetchClient, log)
	flows := verification.NewManager(db, cfg.Verification, log)
	coordinator := linking.NewCoordinator(db, tokens, directory, flows, cfg.Discord, log)
	verifier := linking.NewVerifier(db, tokens, directory, cfg.Discord, log)

	// Background jobs: expired-flow cleanup and the membership sweep
	scheduler := jobs.NewScheduler(flows, verifier, cfg.ReverifySchedule, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("failed to start job scheduler")
	}
	defer scheduler.Stop()

	// RPC surface
	handlers := rpc.NewHandlers(cfg, flows, coordinator, verifier, log)
	dispatcher := rpc.NewDispatcher(handlers.Methods(), log)
	router := api.NewRouter(cfg, dispatcher, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exited")
}
