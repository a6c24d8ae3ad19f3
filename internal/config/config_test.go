package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "commcore", cfg.AthenaWorkGroup)
	assert.Equal(t, 500*time.Millisecond, cfg.QueryPollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ResultPagePacing)
	assert.Equal(t, 1000, cfg.ResultPageSize)
	assert.Equal(t, "halt", cfg.DispatchPolicy)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, []string{"high", "default", "low"}, cfg.PriorityQueues)
	assert.False(t, cfg.SchedulerEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUERY_POLL_INTERVAL", "2s")
	t.Setenv("QUERY_MAX_POLLS", "10")
	t.Setenv("DISPATCH_POLICY", "isolate")
	t.Setenv("SCHEDULER_ENABLED", "true")
	t.Setenv("PRIORITY_QUEUES", " urgent , ,bulk")
	t.Setenv("RESULT_PAGE_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.QueryPollInterval)
	assert.Equal(t, 10, cfg.QueryMaxPolls)
	assert.Equal(t, "isolate", cfg.DispatchPolicy)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, []string{"urgent", "bulk"}, cfg.PriorityQueues)
	assert.Equal(t, 1000, cfg.ResultPageSize)
}
