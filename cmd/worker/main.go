package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"report-dispatcher/internal/app"
	"report-dispatcher/internal/athena"
	"report-dispatcher/internal/awsclient"
	"report-dispatcher/internal/config"
	"report-dispatcher/internal/intake"
	"report-dispatcher/internal/logging"
	"report-dispatcher/internal/queue"
	"report-dispatcher/internal/schedule"
	"report-dispatcher/internal/store"
	"report-dispatcher/internal/telemetry"
	workerproc "report-dispatcher/internal/worker"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)
	logger := logging.WithModule("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	tracer, shutdownTracing, err := telemetry.NewTracer(ctx, cfg.ServiceName, cfg.TracingEnabled)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	rdb := queue.NewClient(cfg)
	defer rdb.Close()
	q := queue.NewRedisQueue(rdb, queue.OptionsFromConfig(cfg))

	clients, err := awsclient.New(ctx, cfg)
	if err != nil {
		return err
	}
	cat, err := app.LoadCatalog(ctx, cfg, clients.S3)
	if err != nil {
		return err
	}
	enqueuer, err := app.NewEnqueuer(cfg, clients.SQS, rdb)
	if err != nil {
		return err
	}
	handler, err := app.NewHandler(cfg, app.Components{
		Catalog:  cat,
		Engine:   athena.NewEngine(clients.Athena, cfg.AthenaOutputLocation),
		Enqueuer: enqueuer,
		Logger:   logging.WithModule("recipe"),
		Tracer:   tracer,
	})
	if err != nil {
		return err
	}

	procOpts := workerproc.OptionsFromConfig(cfg)
	procOpts.Tracer = tracer
	processor := workerproc.NewProcessor(q, st, handler, procOpts, logger)
	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Run(gctx)
	})
	g.Go(func() error {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(shutdownCtx)
	})
	if cfg.SchedulerEnabled {
		in := intake.NewService(st, q, cat, intake.Options{
			MaxAttempts:    cfg.MaxAttempts,
			IdempotencyTTL: cfg.IdempotencyTTL,
			Logger:         logging.WithModule("intake"),
		})
		scheduler := schedule.New(cat, in, schedule.Options{Logger: logging.WithModule("schedule")})
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	logger.Info("worker started",
		"recipes", cat.Len(),
		"visibility", cfg.VisibilityTimeout,
		"message_backend", cfg.MessageBackend,
		"dispatch_policy", cfg.DispatchPolicy,
		"scheduler", cfg.SchedulerEnabled,
	)
	return g.Wait()
}
