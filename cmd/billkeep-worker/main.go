package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"billkeep/internal/amqp"
	"billkeep/internal/config"
	applog "billkeep/internal/log"
	"billkeep/internal/remote"
	"billkeep/internal/storage"
	"billkeep/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentWorker)
	applog.SetDefault(logger)

	logger.Info("Starting billkeep-worker")

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
	if cfg.APIAccessToken != "" {
		session.SetTokens(remote.TokenPair{
			AccessToken:  cfg.APIAccessToken,
			RefreshToken: cfg.APIRefreshToken,
		})
		logger.Info("Session seeded from environment token pair")
	} else {
		logger.Warn("No API token configured, pushes will fail until one is provided")
	}
	client := remote.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, session)

	// AMQP is optional for the worker too: without it only the periodic
	// sweeps run.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		logger.Info("AMQP consumer initialized",
			"exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled, relying on periodic sweeps only")
	}

	syncWorker := worker.NewSyncWorker(store, client, client, cfg.SyncBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover anything missed while the worker was down.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
		// Keep going; the periodic sweep retries.
	}

	g, gctx := errgroup.WithContext(ctx)

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeMessages(gctx, syncWorker.HandleMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.SyncInterval.String(), func() {
		if err := syncWorker.ProcessPending(gctx); err != nil {
			logger.Error("Periodic sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("Failed to schedule periodic sweep", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if err := client.EnsureFresh(gctx, 5*time.Minute); err != nil {
			logger.Error("Proactive token refresh failed", "error", err)
		}
	}); err != nil {
		logger.Error("Failed to schedule token refresh check", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down worker...")

		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("Scheduler shutdown timeout reached")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
