// Package app assembles the recipe pipeline from configuration. It is shared
// by the worker and the one-shot runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"report-dispatcher/internal/catalog"
	"report-dispatcher/internal/config"
	"report-dispatcher/internal/messaging"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/render"
)

// Message backends accepted by MESSAGE_BACKEND.
const (
	BackendSQS   = "sqs"
	BackendRedis = "redis"
)

// LoadCatalog reads recipes from the embedded defaults plus RECIPE_DIR and
// RECIPE_S3_URI when set.
func LoadCatalog(ctx context.Context, cfg config.Config, s3 catalog.S3API) (*catalog.Catalog, error) {
	cat, err := catalog.Load(ctx, catalog.Sources{Dir: cfg.RecipeDir, S3URI: cfg.RecipeS3URI, S3: s3})
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	return cat, nil
}

// NewEnqueuer picks the outbound notification queue named by cfg.MessageBackend.
func NewEnqueuer(cfg config.Config, sqs messaging.SQSAPI, rdb *redis.Client) (recipe.Enqueuer, error) {
	switch strings.ToLower(cfg.MessageBackend) {
	case BackendSQS, "":
		if cfg.SQSQueueURL == "" {
			return nil, errors.New("SQS_QUEUE_URL is required for the sqs message backend")
		}
		if sqs == nil {
			return nil, errors.New("sqs message backend without an sqs client")
		}
		return messaging.NewSQSEnqueuer(sqs, cfg.SQSQueueURL), nil
	case BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis message backend without a redis client")
		}
		return messaging.NewRedisEnqueuer(rdb, cfg.NotificationListKey), nil
	default:
		return nil, fmt.Errorf("unknown message backend %q", cfg.MessageBackend)
	}
}

// Components are the collaborators of the pipeline.
type Components struct {
	Catalog  recipe.Catalog
	Engine   recipe.QueryEngine
	Enqueuer recipe.Enqueuer
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// NewHandler builds the runner and wraps it in the standard middleware.
func NewHandler(cfg config.Config, c Components) (recipe.Handler, error) {
	policy, err := recipe.ParseDispatchPolicy(cfg.DispatchPolicy)
	if err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := recipe.NewRunner(recipe.RunnerConfig{
		Catalog:      c.Catalog,
		Engine:       c.Engine,
		Enqueuer:     c.Enqueuer,
		Renderers:    render.Renderers(),
		WorkGroup:    cfg.AthenaWorkGroup,
		PageSize:     int32(cfg.ResultPageSize),
		PollInterval: cfg.QueryPollInterval,
		MaxPolls:     cfg.QueryMaxPolls,
		PagePacing:   cfg.ResultPagePacing,
		Policy:       policy,
		Logger:       logger,
	})
	return recipe.Pipeline(runner, logger, c.Tracer), nil
}
