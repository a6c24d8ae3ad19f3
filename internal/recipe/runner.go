package recipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result is the terminal value of a successful execution.
type Result string

const (
	ResultSuccess      Result = "SUCCESS"
	ResultEmptySuccess Result = "EMPTY SUCCESS"
)

// Report summarizes one execution.
type Report struct {
	Recipe           string
	QueryExecutionID QueryHandle
	Result           Result
	Records          int
	Outcomes         []Outcome
}

// Handler runs one execution request.
type Handler func(ctx context.Context, req ExecutionRequest) (Report, error)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Catalog   Catalog
	Engine    QueryEngine
	Enqueuer  Enqueuer
	Renderers map[Channel]Renderer
	// WorkGroup is used for recipes that do not name one.
	WorkGroup string
	// PageSize is used for recipes that do not set one.
	PageSize     int32
	PollInterval time.Duration
	MaxPolls     int
	PagePacing   time.Duration
	Policy       DispatchPolicy
	Logger       *slog.Logger
}

// Runner executes recipes end to end: query, collect, compose, dispatch.
type Runner struct {
	catalog    Catalog
	monitor    *Monitor
	collector  *Collector
	composer   *Composer
	dispatcher *Dispatcher
	workGroup  string
	pageSize   int32
	logger     *slog.Logger
}

// NewRunner builds a Runner from cfg.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		catalog:    cfg.Catalog,
		monitor:    NewMonitor(cfg.Engine, cfg.PollInterval, cfg.MaxPolls, logger),
		collector:  NewCollector(cfg.Engine, cfg.PagePacing, logger),
		composer:   NewComposer(cfg.Renderers),
		dispatcher: NewDispatcher(cfg.Enqueuer, cfg.Policy, logger),
		workGroup:  cfg.WorkGroup,
		pageSize:   cfg.PageSize,
		logger:     logger,
	}
}

// Run executes req. An empty result set ends the run with ResultEmptySuccess
// before anything is rendered or enqueued.
func (r *Runner) Run(ctx context.Context, req ExecutionRequest) (Report, error) {
	def, ok := r.catalog.Lookup(req.Recipe)
	if !ok {
		return Report{}, &ValidationError{Field: "recipe", Reason: fmt.Sprintf("unknown recipe %q", req.Recipe)}
	}
	report := Report{Recipe: def.ID}

	query, err := BuildQuery(def, req)
	if err != nil {
		return report, err
	}

	workGroup := def.WorkGroup
	if workGroup == "" {
		workGroup = r.workGroup
	}
	handle, err := r.monitor.Submit(ctx, query, workGroup)
	if err != nil {
		return report, err
	}
	report.QueryExecutionID = handle

	if _, err := r.monitor.AwaitCompletion(ctx, handle); err != nil {
		return report, err
	}

	pageSize := def.pageSize()
	if def.PageSize == 0 && r.pageSize > 0 && r.pageSize < DefaultPageSize {
		pageSize = r.pageSize
	}
	records, err := r.collector.Collect(ctx, handle, pageSize)
	if err != nil {
		return report, err
	}
	report.Records = len(records)
	if len(records) == 0 {
		r.logger.InfoContext(ctx, "no records, skipping dispatch", "recipe", def.ID, "query_execution_id", handle)
		report.Result = ResultEmptySuccess
		return report, nil
	}

	messages, err := r.composer.Compose(def, records)
	if err != nil {
		return report, err
	}

	report.Outcomes, err = r.dispatcher.Dispatch(ctx, req.Recipients, messages)
	if err != nil {
		return report, err
	}
	report.Result = ResultSuccess
	return report, nil
}
