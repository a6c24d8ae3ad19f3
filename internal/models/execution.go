package models

import (
	"time"

	"report-dispatcher/internal/recipe"
)

// Execution lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusDeadLetter = "dead_lettered"
)

// Execution is one recipe run requested through the API or a subscription.
type Execution struct {
	ID               string                  `json:"id"`
	Recipe           string                  `json:"recipe"`
	Priority         string                  `json:"priority"`
	Tenant           string                  `json:"tenant"`
	Request          recipe.ExecutionRequest `json:"request"`
	Status           string                  `json:"status"`
	Attempts         int                     `json:"attempts"`
	MaxAttempts      int                     `json:"max_attempts"`
	NextRunAt        time.Time               `json:"next_run_at"`
	LastError        *string                 `json:"last_error,omitempty"`
	Result           *string                 `json:"result,omitempty"`
	QueryExecutionID *string                 `json:"query_execution_id,omitempty"`
	IdempotencyKey   *string                 `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Terminal reports whether the execution can no longer change state.
func (e Execution) Terminal() bool {
	switch e.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	default:
		return false
	}
}
