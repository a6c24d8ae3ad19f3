// Package intake turns execution requests into persisted, queued work items.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"report-dispatcher/internal/models"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/store"
	"report-dispatcher/internal/telemetry"
)

// Store persists work items.
type Store interface {
	CreateExecution(ctx context.Context, p store.CreateParams) (models.Execution, bool, error)
	MarkFailed(ctx context.Context, id, lastErr string) error
}

// Queue holds work item ids until a worker leases them.
type Queue interface {
	Enqueue(ctx context.Context, id, priority string, runAt time.Time) error
	Known(priority string) bool
}

// Submission is one request to run a recipe.
type Submission struct {
	Request        recipe.ExecutionRequest
	Tenant         string
	Priority       string
	IdempotencyKey string
	RunAt          time.Time
	MaxAttempts    int
}

// Options configures a Service.
type Options struct {
	MaxAttempts    int
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// Service validates submissions, stores them and enqueues their ids.
type Service struct {
	store   Store
	queue   Queue
	catalog recipe.Catalog
	opts    Options
	logger  *slog.Logger
}

// NewService builds an intake service.
func NewService(st Store, q Queue, catalog recipe.Catalog, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Service{store: st, queue: q, catalog: catalog, opts: opts, logger: logger}
}

// Submit validates sub and creates its work item. The boolean reports whether
// an existing execution was returned for a repeated idempotency key.
func (s *Service) Submit(ctx context.Context, sub Submission) (models.Execution, bool, error) {
	if err := sub.Request.Validate(); err != nil {
		return models.Execution{}, false, err
	}
	if _, ok := s.catalog.Lookup(sub.Request.Recipe); !ok {
		return models.Execution{}, false, &recipe.ValidationError{Field: "recipe", Reason: fmt.Sprintf("unknown recipe %q", sub.Request.Recipe)}
	}
	if sub.Priority != "" && !s.queue.Known(sub.Priority) {
		return models.Execution{}, false, &recipe.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", sub.Priority)}
	}
	maxAttempts := sub.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.opts.MaxAttempts
	}

	exec, reused, err := s.store.CreateExecution(ctx, store.CreateParams{
		Request:        sub.Request,
		Priority:       sub.Priority,
		Tenant:         sub.Tenant,
		IdempotencyKey: sub.IdempotencyKey,
		RunAt:          sub.RunAt,
		MaxAttempts:    maxAttempts,
		IdempotencyTTL: s.opts.IdempotencyTTL,
	})
	if err != nil {
		return models.Execution{}, false, fmt.Errorf("create execution: %w", err)
	}
	if reused {
		s.logger.InfoContext(ctx, "idempotent submission", "execution_id", exec.ID, "recipe", exec.Recipe)
		return exec, true, nil
	}

	if err := s.queue.Enqueue(ctx, exec.ID, exec.Priority, exec.NextRunAt); err != nil {
		if markErr := s.store.MarkFailed(ctx, exec.ID, err.Error()); markErr != nil {
			s.logger.ErrorContext(ctx, "mark failed after enqueue error", "execution_id", exec.ID, "error", markErr)
		}
		return models.Execution{}, false, fmt.Errorf("enqueue execution %s: %w", exec.ID, err)
	}

	telemetry.ExecutionsSubmitted.Inc()
	s.logger.InfoContext(ctx, "execution submitted",
		"execution_id", exec.ID,
		"recipe", exec.Recipe,
		"tenant", exec.Tenant,
		"priority", exec.Priority,
	)
	return exec, false, nil
}
