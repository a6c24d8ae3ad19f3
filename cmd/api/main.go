package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"report-dispatcher/internal/api"
	"report-dispatcher/internal/app"
	"report-dispatcher/internal/awsclient"
	"report-dispatcher/internal/catalog"
	"report-dispatcher/internal/config"
	"report-dispatcher/internal/intake"
	"report-dispatcher/internal/logging"
	"report-dispatcher/internal/queue"
	"report-dispatcher/internal/ratelimit"
	"report-dispatcher/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	logger := logging.WithModule("api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	var s3 catalog.S3API
	if cfg.RecipeS3URI != "" {
		clients, err := awsclient.New(ctx, cfg)
		if err != nil {
			logger.Error("aws clients", "error", err)
			os.Exit(1)
		}
		s3 = clients.S3
	}
	cat, err := app.LoadCatalog(ctx, cfg, s3)
	if err != nil {
		logger.Error("recipes", "error", err)
		os.Exit(1)
	}

	rdb := queue.NewClient(cfg)
	defer rdb.Close()
	q := queue.NewRedisQueue(rdb, queue.OptionsFromConfig(cfg))
	limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	in := intake.NewService(st, q, cat, intake.Options{
		MaxAttempts:    cfg.MaxAttempts,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logging.WithModule("intake"),
	})

	server := api.New(in, st, q, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "recipes", cat.Len())
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
