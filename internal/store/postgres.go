// Package store persists execution work items in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"report-dispatcher/internal/models"
	"report-dispatcher/internal/recipe"
)

// ErrNotFound is returned when no execution has the requested id.
var ErrNotFound = errors.New("execution not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateParams collects inputs required to insert an execution.
type CreateParams struct {
	Request        recipe.ExecutionRequest
	Priority       string
	Tenant         string
	IdempotencyKey string
	RunAt          time.Time
	MaxAttempts    int
	IdempotencyTTL time.Duration
}

func (p *CreateParams) defaults(now time.Time) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Priority == "" {
		p.Priority = "default"
	}
	if p.RunAt.IsZero() {
		p.RunAt = now
	}
}

// CreateExecution inserts a queued execution, honoring the idempotency key if
// provided. The boolean reports whether an existing execution was returned.
func (s *Store) CreateExecution(ctx context.Context, p CreateParams) (models.Execution, bool, error) {
	now := time.Now().UTC()
	p.defaults(now)

	requestJSON, err := json.Marshal(p.Request)
	if err != nil {
		return models.Execution{}, false, fmt.Errorf("marshal request: %w", err)
	}

	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.Execution{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Execution{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	id := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, recipe, priority, tenant, request, status, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
	`, id, p.Request.Recipe, p.Priority, p.Tenant, requestJSON, models.StatusQueued, p.MaxAttempts, p.RunAt, now)
	if err != nil {
		return models.Execution{}, false, fmt.Errorf("insert execution: %w", err)
	}

	if p.IdempotencyKey != "" {
		var expires *time.Time
		if p.IdempotencyTTL > 0 {
			t := now.Add(p.IdempotencyTTL)
			expires = &t
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, execution_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE
			SET execution_id = EXCLUDED.execution_id, expires_at = EXCLUDED.expires_at
			WHERE idempotency_keys.expires_at IS NOT NULL AND idempotency_keys.expires_at <= NOW()
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.Execution{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Claimed concurrently after the initial check. Expired keys are
			// taken over by the upsert above and never reach this branch.
			if err := tx.Rollback(ctx); err != nil {
				return models.Execution{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.Execution{}, false, err
			}
			if !found {
				return models.Execution{}, false, errors.New("idempotency conflict but no existing execution found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Execution{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Execution{
		ID:             id,
		Recipe:         p.Request.Recipe,
		Priority:       p.Priority,
		Tenant:         p.Tenant,
		Request:        p.Request,
		Status:         models.StatusQueued,
		MaxAttempts:    p.MaxAttempts,
		NextRunAt:      p.RunAt,
		IdempotencyKey: emptyToNil(p.IdempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, false, nil
}

// FindByIdempotencyKey returns the execution mapped to an unexpired key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Execution, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT execution_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Execution{}, false, nil
	}
	if err != nil {
		return models.Execution{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	exec, err := s.GetExecution(ctx, id)
	if err != nil {
		return models.Execution{}, false, err
	}
	exec.IdempotencyKey = &key
	return exec, true, nil
}

// GetExecution fetches an execution by id. A missing row yields ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Execution{}, fmt.Errorf("get execution %q: %w", id, ErrNotFound)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, recipe, priority, tenant, request, status, attempts, max_attempts, next_run_at,
		       last_error, result, query_execution_id, created_at, updated_at
		FROM executions WHERE id = $1
	`, id)

	var (
		exec        models.Execution
		requestJSON []byte
		lastErr     pgtype.Text
		result      pgtype.Text
		queryID     pgtype.Text
	)
	if err := row.Scan(&exec.ID, &exec.Recipe, &exec.Priority, &exec.Tenant, &requestJSON, &exec.Status,
		&exec.Attempts, &exec.MaxAttempts, &exec.NextRunAt, &lastErr, &result, &queryID,
		&exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Execution{}, fmt.Errorf("get execution %s: %w", id, ErrNotFound)
		}
		return models.Execution{}, fmt.Errorf("scan execution: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &exec.Request); err != nil {
		return models.Execution{}, fmt.Errorf("unmarshal request: %w", err)
	}
	exec.LastError = textPtr(lastErr)
	exec.Result = textPtr(result)
	exec.QueryExecutionID = textPtr(queryID)
	return exec, nil
}

// MarkRunning records the start of an attempt.
func (s *Store) MarkRunning(ctx context.Context, id string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE executions SET status = $2, attempts = $3, updated_at = NOW() WHERE id = $1
	`, id, models.StatusRunning, attempts)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", id, err)
	}
	return nil
}

// MarkSucceeded stores the result string and query execution id. A run
// cancelled while in flight keeps its cancelled status.
func (s *Store) MarkSucceeded(ctx context.Context, id, result, queryExecutionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, result = $3, query_execution_id = $4, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.StatusSucceeded, result, emptyToNil(queryExecutionID), models.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark succeeded %s: %w", id, err)
	}
	return nil
}

// MarkRetry returns the execution to queued with a new run time.
func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1 AND status IN ($2, $6)
	`, id, models.StatusQueued, attempts, nextRun, lastErr, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark retry %s: %w", id, err)
	}
	return nil
}

// MarkDeadLetter flags an execution as dead_lettered. The error text is also
// stored as the result string.
func (s *Store) MarkDeadLetter(ctx context.Context, id, lastErr, queryExecutionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE executions
		SET status = $2, last_error = $3, result = $3, query_execution_id = COALESCE($4, query_execution_id), updated_at = NOW()
		WHERE id = $1 AND status IN ($5, $6)
	`, id, models.StatusDeadLetter, lastErr, emptyToNil(queryExecutionID), models.StatusQueued, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("mark dead letter %s: %w", id, err)
	}
	return nil
}

// MarkFailed flags an execution as failed without a retry.
func (s *Store) MarkFailed(ctx context.Context, id, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE executions SET status = $2, last_error = $3, result = $3, updated_at = NOW() WHERE id = $1
	`, id, models.StatusFailed, lastErr)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// MarkCancelled sets status cancelled unless the execution already finished.
// It reports whether a row changed.
func (s *Store) MarkCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, models.StatusCancelled, models.StatusQueued, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("mark cancelled %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeIdempotencyKeys deletes expired keys and returns how many were removed.
func (s *Store) PurgeIdempotencyKeys(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
