package recipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"report-dispatcher/internal/telemetry"
)

// DefaultPagePacing is the wait before each follow-up page request, which
// keeps the job under the engine's request rate limit.
const DefaultPagePacing = 100 * time.Millisecond

// Collector walks the result pages of a finished query.
type Collector struct {
	engine QueryEngine
	pacing time.Duration
	sleep  sleepFunc
	logger *slog.Logger
}

// NewCollector builds a collector pacing follow-up page requests by pacing.
func NewCollector(engine QueryEngine, pacing time.Duration, logger *slog.Logger) *Collector {
	if pacing <= 0 {
		pacing = DefaultPagePacing
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		engine: engine,
		pacing: pacing,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Walk hands the records of each page to fn in arrival order. The header row
// of the first page is dropped. Pages are fetched one at a time and only
// after fn returned for the previous page.
func (c *Collector) Walk(ctx context.Context, h QueryHandle, pageSize int32, fn func([]Record) error) error {
	page, err := c.engine.Page(ctx, h, PageRequest{MaxRows: pageSize})
	if err != nil {
		return fmt.Errorf("fetch result page 1: %w", err)
	}
	telemetry.ResultPages.Inc()

	rows := page.Rows
	if len(rows) > 0 {
		rows = rows[1:]
	}
	if err := fn(toRecords(rows)); err != nil {
		return err
	}

	for n := 2; page.NextCursor != ""; n++ {
		if err := c.sleep(ctx, c.pacing); err != nil {
			return fmt.Errorf("wait for result page %d: %w", n, err)
		}
		page, err = c.engine.Page(ctx, h, PageRequest{Cursor: page.NextCursor, MaxRows: pageSize})
		if err != nil {
			return fmt.Errorf("fetch result page %d: %w", n, err)
		}
		telemetry.ResultPages.Inc()
		c.logger.DebugContext(ctx, "result page", "query_execution_id", h, "page", n, "rows", len(page.Rows))
		if err := fn(toRecords(page.Rows)); err != nil {
			return err
		}
	}
	return nil
}

// Collect materializes every record of h.
func (c *Collector) Collect(ctx context.Context, h QueryHandle, pageSize int32) ([]Record, error) {
	var records []Record
	err := c.Walk(ctx, h, pageSize, func(page []Record) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
