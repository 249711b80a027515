package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"billkeep/internal/amqp"
	"billkeep/internal/config"
	"billkeep/internal/httpapi"
	applog "billkeep/internal/log"
	"billkeep/internal/parse"
	"billkeep/internal/remote"
	"billkeep/internal/services"
	"billkeep/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open local store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	session := remote.NewSession()
	client := remote.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, session)

	// A terminal auth failure wipes the local mirror: cached bills and user
	// belong to the session that just ended.
	session.SetOnLogout(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.ClearAllData(ctx); err != nil {
			logger.Error("Failed to clear local data on logout", "error", err)
		} else {
			logger.Info("Local data cleared on logout")
		}
	})

	// AMQP is optional; without it sync relies on the periodic sweep.
	var publisher services.SyncPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to connect to AMQP, continuing without queue", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP publisher initialized",
				"exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	bills := services.NewBillService(store, publisher, client)
	syncer := services.NewSyncProcessor(store, client, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncer.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(":"+cfg.Port, store, bills, client, session, syncer, parse.NewKeywordParser())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := syncer.Stop(shutdownCtx); err != nil {
			logger.Error("Sync processor shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting billkeep server",
		"port", cfg.Port, "db_path", cfg.SQLiteDBPath, "api_base_url", cfg.APIBaseURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
