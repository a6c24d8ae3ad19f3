// Package worker leases queued executions and runs them through the recipe
// pipeline.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"report-dispatcher/internal/config"
	"report-dispatcher/internal/models"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/telemetry"
)

const (
	reclaimBatch  = 100
	purgeInterval = 10 * time.Minute
)

// Queue is the lease-based queue the processor drains.
type Queue interface {
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, id string, extension time.Duration) error
	Ack(ctx context.Context, id string) error
	Schedule(ctx context.Context, id, priority string, runAt time.Time) error
	DLQPush(ctx context.Context, id string) error
}

// Store persists execution state transitions.
type Store interface {
	GetExecution(ctx context.Context, id string) (models.Execution, error)
	MarkRunning(ctx context.Context, id string, attempts int) error
	MarkSucceeded(ctx context.Context, id, result, queryExecutionID string) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error
	MarkDeadLetter(ctx context.Context, id, lastErr, queryExecutionID string) error
	PurgeIdempotencyKeys(ctx context.Context) (int64, error)
}

// Options tunes the processing loop.
type Options struct {
	PollInterval       time.Duration
	ScheduledBatchSize int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	// ExecutionTimeout bounds one run of the recipe pipeline.
	ExecutionTimeout time.Duration
	// Visibility is the lease length; a running execution renews it every
	// third of that. Zero disables renewal.
	Visibility time.Duration
	Tracer     trace.Tracer
}

// OptionsFromConfig maps the worker settings of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		PollInterval:       cfg.WorkerPollInterval,
		ScheduledBatchSize: cfg.ScheduledBatchSize,
		BackoffInitial:     cfg.BackoffInitial,
		BackoffMax:         cfg.BackoffMax,
		ExecutionTimeout:   cfg.QueryTimeout,
		Visibility:         cfg.VisibilityTimeout,
	}
}

// Processor drives the worker execution loop.
type Processor struct {
	queue   Queue
	store   Store
	handler recipe.Handler
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	lastPurge time.Time
}

// NewProcessor builds a processor running handler for every leased execution.
func NewProcessor(q Queue, st Store, handler recipe.Handler, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ScheduledBatchSize <= 0 {
		opts.ScheduledBatchSize = 100
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	return &Processor{
		queue:   q,
		store:   st,
		handler: handler,
		opts:    opts,
		logger:  logger,
		tracer:  tracer,
		now:     time.Now,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.maintain(ctx)

		processed, err := p.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.ErrorContext(ctx, "process execution", "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// maintain promotes due retries, reclaims expired leases, drops expired
// idempotency keys and refreshes gauges.
func (p *Processor) maintain(ctx context.Context) {
	now := p.now()
	if n, err := p.queue.PromoteScheduled(ctx, now, int64(p.opts.ScheduledBatchSize)); err != nil {
		p.logger.WarnContext(ctx, "promote scheduled", "error", err)
	} else if n > 0 {
		p.logger.DebugContext(ctx, "promoted scheduled executions", "count", n)
	}

	reclaimed, err := p.queue.RequeueExpired(ctx, now, reclaimBatch)
	if err != nil {
		p.logger.WarnContext(ctx, "requeue expired", "error", err)
	}
	for _, id := range reclaimed {
		exec, err := p.store.GetExecution(ctx, id)
		if err != nil {
			continue
		}
		lastErr := "lease expired"
		if exec.LastError != nil {
			lastErr = *exec.LastError
		}
		_ = p.store.MarkRetry(ctx, id, exec.Attempts, now, lastErr)
		p.logger.WarnContext(ctx, "reclaimed expired lease", "execution_id", id)
	}

	if p.lastPurge.IsZero() || now.Sub(p.lastPurge) >= purgeInterval {
		p.lastPurge = now
		if n, err := p.store.PurgeIdempotencyKeys(ctx); err != nil {
			p.logger.WarnContext(ctx, "purge idempotency keys", "error", err)
		} else if n > 0 {
			p.logger.InfoContext(ctx, "purged expired idempotency keys", "count", n)
		}
	}

	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

// ProcessNext leases and runs one execution. It reports false when nothing was ready.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	id, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}

	exec, err := p.store.GetExecution(ctx, id)
	if err != nil {
		p.logger.WarnContext(ctx, "drop unknown execution", "execution_id", id, "error", err)
		_ = p.queue.Ack(ctx, id)
		return true, nil
	}
	if exec.Terminal() {
		p.logger.InfoContext(ctx, "skip finished execution", "execution_id", id, "status", exec.Status)
		_ = p.queue.Ack(ctx, id)
		return true, nil
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()
	return true, p.process(ctx, exec)
}

func (p *Processor) process(ctx context.Context, exec models.Execution) (rerr error) {
	attempts := exec.Attempts + 1
	ctx, span := p.tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String(telemetry.ExecutionIDKey, exec.ID),
		attribute.String(telemetry.RecipeKey, exec.Recipe),
		attribute.Int("report.attempt", attempts),
	))
	var runErr error
	defer func() {
		if rerr != nil && runErr == nil {
			telemetry.SetError(span, rerr)
		}
		span.End()
	}()

	if err := p.store.MarkRunning(ctx, exec.ID, attempts); err != nil {
		return err
	}

	runCtx := ctx
	if p.opts.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.ExecutionTimeout)
		defer cancel()
	}
	stopHeartbeat := p.heartbeat(ctx, exec.ID)
	report, err := p.handler(runCtx, exec.Request)
	stopHeartbeat()
	queryID := string(report.QueryExecutionID)
	if err != nil {
		runErr = err
		telemetry.SetError(span, err)
	}

	if err == nil {
		if err := p.store.MarkSucceeded(ctx, exec.ID, string(report.Result), queryID); err != nil {
			return err
		}
		return p.queue.Ack(ctx, exec.ID)
	}

	// Shutdown mid-run: keep the lease so another worker reclaims it.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if recipe.Permanent(err) || attempts >= exec.MaxAttempts {
		p.logger.ErrorContext(ctx, "dead-lettering execution",
			"execution_id", exec.ID,
			"recipe", exec.Recipe,
			"attempts", attempts,
			"permanent", recipe.Permanent(err),
			"error", err,
		)
		telemetry.WorkerDeadLetter.Inc()
		return errors.Join(
			p.store.MarkDeadLetter(ctx, exec.ID, err.Error(), queryID),
			p.queue.Ack(ctx, exec.ID),
			p.queue.DLQPush(ctx, exec.ID),
		)
	}

	nextRun := p.now().Add(backoffWithJitter(p.opts.BackoffInitial, p.opts.BackoffMax, attempts))
	telemetry.WorkerRetries.Inc()
	p.logger.WarnContext(ctx, "execution failed, retry scheduled",
		"execution_id", exec.ID,
		"attempts", attempts,
		"next_run", nextRun.UTC().Format(time.RFC3339),
		"error", err,
	)
	return errors.Join(
		p.store.MarkRetry(ctx, exec.ID, attempts, nextRun, err.Error()),
		p.queue.Schedule(ctx, exec.ID, exec.Priority, nextRun),
	)
}

// heartbeat renews the lease on id until the returned stop func is called,
// so a run longer than the visibility timeout is not reclaimed mid-flight.
func (p *Processor) heartbeat(ctx context.Context, id string) (stop func()) {
	if p.opts.Visibility <= 0 {
		return func() {}
	}
	interval := p.opts.Visibility / 3
	if interval <= 0 {
		interval = p.opts.Visibility
	}
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(hbCtx, id, p.opts.Visibility); err != nil && hbCtx.Err() == nil {
					p.logger.WarnContext(ctx, "extend lease", "execution_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	wait := time.Duration(math.Min(float64(base)*math.Pow(2, float64(attempt-1)), float64(max)))
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
