// Package schedule submits executions for active recipe subscriptions on
// their period.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"report-dispatcher/internal/catalog"
	"report-dispatcher/internal/intake"
	"report-dispatcher/internal/models"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/telemetry"
)

// Submitter creates work items.
type Submitter interface {
	Submit(ctx context.Context, sub intake.Submission) (models.Execution, bool, error)
}

// Source lists recipes and their subscriptions.
type Source interface {
	Entries() []catalog.Entry
}

// Options configures a Scheduler.
type Options struct {
	Location *time.Location
	Logger   *slog.Logger
	// Priority is used for every scheduled submission.
	Priority string
}

// Scheduler registers one cron entry per active subscription.
type Scheduler struct {
	cron     *cron.Cron
	source   Source
	intake   Submitter
	logger   *slog.Logger
	location *time.Location
	priority string
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a scheduler. Subscriptions are loaded by Start.
func New(source Source, in Submitter, opts Options) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		source:   source,
		intake:   in,
		logger:   logger,
		location: loc,
		priority: opts.Priority,
		now:      time.Now,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start registers subscriptions and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "subscription scheduler started", "subscriptions", s.Len())
	return nil
}

// Stop halts the cron loop and waits for running submissions.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("subscription scheduler stopped")
}

// Run starts the scheduler and blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Len is the number of registered subscriptions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.source.Entries() {
		for _, sub := range e.Subscriptions {
			key := e.ID + "/" + sub.Name
			if !sub.Active {
				s.logger.DebugContext(ctx, "skip inactive subscription", "subscription", key)
				continue
			}
			period, err := ParsePeriod(sub.Period)
			if err != nil {
				s.logger.WarnContext(ctx, "invalid subscription period", "subscription", key, "error", err)
				continue
			}
			if _, dup := s.entries[key]; dup {
				return fmt.Errorf("duplicate subscription %s", key)
			}

			recipeID := e.ID
			id, err := s.cron.AddFunc(period.Spec(), func() {
				s.fire(context.Background(), recipeID, sub, period, s.now())
			})
			if err != nil {
				return fmt.Errorf("schedule %s: %w", key, err)
			}
			s.entries[key] = id
			s.logger.InfoContext(ctx, "scheduled subscription", "subscription", key, "period", string(period))
		}
	}
	return nil
}

// fire submits one execution covering the period that just closed. The
// idempotency key makes concurrent schedulers submit each window once.
func (s *Scheduler) fire(ctx context.Context, recipeID string, sub catalog.Subscription, period Period, now time.Time) {
	start, end := period.Window(now.In(s.location))
	req := recipe.ExecutionRequest{
		Resource:   "subscription",
		Name:       sub.Name,
		Criteria:   sub.Criteria,
		Timeframe:  []time.Time{start, end},
		Recipients: sub.Recipients,
		Recipe:     recipeID,
		Period:     string(period),
		Active:     true,
	}
	exec, reused, err := s.intake.Submit(ctx, intake.Submission{
		Request:        req,
		Tenant:         "scheduler",
		Priority:       s.priority,
		IdempotencyKey: fmt.Sprintf("schedule:%s:%s:%d", recipeID, sub.Name, end.Unix()),
		RunAt:          now,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled submission failed",
			"recipe", recipeID,
			"subscription", sub.Name,
			"error", err,
		)
		return
	}
	if !reused {
		telemetry.ScheduledSubmissions.WithLabelValues(recipeID).Inc()
	}
	s.logger.InfoContext(ctx, "scheduled submission",
		"recipe", recipeID,
		"subscription", sub.Name,
		"execution_id", exec.ID,
		"window_start", start,
		"window_end", end,
		"reused", reused,
	)
}
