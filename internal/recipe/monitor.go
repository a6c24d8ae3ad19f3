package recipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"report-dispatcher/internal/telemetry"
)

const (
	// DefaultPollInterval is the wait between status polls.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultMaxPolls caps status polls at ten minutes of waiting.
	DefaultMaxPolls = 1200

	stopTimeout = 5 * time.Second
)

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Monitor submits queries and drives them to a terminal state.
type Monitor struct {
	engine   QueryEngine
	interval time.Duration
	maxPolls int
	sleep    sleepFunc
	logger   *slog.Logger
}

// NewMonitor builds a monitor. A maxPolls of zero leaves the context
// deadline as the only bound.
func NewMonitor(engine QueryEngine, interval time.Duration, maxPolls int, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		engine:   engine,
		interval: interval,
		maxPolls: maxPolls,
		sleep:    sleepContext,
		logger:   logger,
	}
}

// Submit starts query in workGroup.
func (m *Monitor) Submit(ctx context.Context, query, workGroup string) (QueryHandle, error) {
	h, err := m.engine.Submit(ctx, query, workGroup)
	if err != nil {
		return "", fmt.Errorf("submit query: %w", err)
	}
	m.logger.InfoContext(ctx, "query execution", "query_execution_id", h, "workgroup", workGroup)
	return h, nil
}

// AwaitCompletion polls h until it leaves QUEUED/RUNNING. Any terminal state
// other than SUCCEEDED yields a QueryExecutionError; running out of polls or
// context yields a TimeoutError after a best-effort stop of the query.
func (m *Monitor) AwaitCompletion(ctx context.Context, h QueryHandle) (QueryStatus, error) {
	status, err := m.engine.Status(ctx, h)
	polls := 1
	for ; err == nil && !status.State.Terminal(); polls++ {
		telemetry.QueryPolls.Inc()
		m.logger.DebugContext(ctx, "still executing, waiting",
			"query_execution_id", h,
			"state", status.State,
			"polls", polls,
			"wait", m.interval,
		)
		if m.maxPolls > 0 && polls >= m.maxPolls {
			return status, m.abandon(ctx, &TimeoutError{Handle: h, Polls: polls})
		}
		if serr := m.sleep(ctx, m.interval); serr != nil {
			return status, m.abandon(ctx, &TimeoutError{Handle: h, Polls: polls, Err: serr})
		}
		status, err = m.engine.Status(ctx, h)
	}
	if err != nil {
		// The deadline can land inside the status call itself.
		if cerr := ctx.Err(); cerr != nil {
			return status, m.abandon(ctx, &TimeoutError{Handle: h, Polls: polls, Err: cerr})
		}
		return status, fmt.Errorf("get query status %s: %w", h, err)
	}

	if status.State != StateSucceeded {
		m.logger.WarnContext(ctx, "failed query status",
			"query_execution_id", h,
			"state", status.State,
			"detail", status.Detail,
		)
		return status, &QueryExecutionError{Handle: h, State: status.State, Detail: status.Detail}
	}
	return status, nil
}

func (m *Monitor) abandon(ctx context.Context, terr *TimeoutError) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := m.engine.Stop(stopCtx, terr.Handle); err != nil {
		m.logger.WarnContext(ctx, "stop abandoned query", "query_execution_id", terr.Handle, "error", err)
	}
	return terr
}
