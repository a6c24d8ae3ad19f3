// Package api exposes execution intake and inspection over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/moogar0880/problems"

	"report-dispatcher/internal/intake"
	"report-dispatcher/internal/models"
	"report-dispatcher/internal/ratelimit"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/store"
	"report-dispatcher/internal/telemetry"
)

const dlqPeekLimit = 100

// Submitter creates work items.
type Submitter interface {
	Submit(ctx context.Context, sub intake.Submission) (models.Execution, bool, error)
}

// Executions reads and cancels persisted work items.
type Executions interface {
	GetExecution(ctx context.Context, id string) (models.Execution, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// Queue is the queue surface the API touches.
type Queue interface {
	Cancel(ctx context.Context, id string) error
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Limiter throttles submissions per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the intake API.
type Server struct {
	intake     Submitter
	executions Executions
	queue      Queue
	limiter    Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs the API server. limiter may be nil.
func New(in Submitter, executions Executions, q Queue, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		intake:     in,
		executions: executions,
		queue:      q,
		limiter:    limiter,
		logger:     logger,
		now:        time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/executions", s.handleSubmit)
	r.Get("/executions/{id}", s.handleGet)
	r.Post("/executions/{id}/cancel", s.handleCancel)
	r.Get("/dlq", s.handleDLQ)
	return r
}

type submitRequest struct {
	Request        recipe.ExecutionRequest `json:"request"`
	IdempotencyKey string                  `json:"idempotency_key"`
	RunAt          *time.Time              `json:"run_at"`
	DelaySeconds   int                     `json:"delay_seconds"`
	Priority       string                  `json:"priority"`
	MaxAttempts    int                     `json:"max_attempts"`
}

type submitResponse struct {
	Execution  models.Execution `json:"execution"`
	Idempotent bool             `json:"idempotent"`
}

// problem is an RFC 7807 body; Field names the offending request field.
type problem struct {
	*problems.DefaultProblem
	Field string `json:"field,omitempty"`
}

const problemContentType = "application/problem+json"

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	tenant := tenantFromRequest(r)
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "rate limit check failed", "tenant", tenant, "error", err)
			writeProblem(w, r, http.StatusInternalServerError, "internal_error", "rate limit check failed")
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			writeProblem(w, r, http.StatusTooManyRequests, "rate_limited", "too many submissions for tenant "+tenant)
			return
		}
	}

	runAt := s.now()
	if req.RunAt != nil {
		runAt = *req.RunAt
	}
	if req.DelaySeconds > 0 {
		runAt = s.now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	exec, idempotent, err := s.intake.Submit(r.Context(), intake.Submission{
		Request:        req.Request,
		Tenant:         tenant,
		Priority:       req.Priority,
		IdempotencyKey: key,
		RunAt:          runAt,
		MaxAttempts:    req.MaxAttempts,
	})
	if err != nil {
		var verr *recipe.ValidationError
		if errors.As(err, &verr) {
			writeJSONType(w, problemContentType, http.StatusBadRequest, problem{DefaultProblem: newProblem(r, http.StatusBadRequest, "validation_error", verr.Error()), Field: verr.Field})
			return
		}
		s.logger.ErrorContext(r.Context(), "submit failed", "tenant", tenant, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "submit failed")
		return
	}

	code := http.StatusAccepted
	if idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, submitResponse{Execution: exec, Idempotent: idempotent})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.executions.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeProblem(w, r, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if exec.Terminal() {
		writeProblem(w, r, http.StatusConflict, "conflict", "execution already "+exec.Status)
		return
	}
	if err := s.queue.Cancel(r.Context(), exec.ID); err != nil {
		s.logger.ErrorContext(r.Context(), "cancel queue item failed", "execution_id", exec.ID, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel queue item")
		return
	}
	changed, err := s.executions.MarkCancelled(r.Context(), exec.ID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "cancel execution failed", "execution_id", exec.ID, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "failed to cancel execution")
		return
	}
	if !changed {
		writeProblem(w, r, http.StatusConflict, "conflict", "execution finished before cancel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (models.Execution, bool) {
	id := chi.URLParam(r, "id")
	exec, err := s.executions.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, r, http.StatusNotFound, "not_found", "execution "+id+" not found")
		return models.Execution{}, false
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "get execution failed", "execution_id", id, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "failed to load execution")
		return models.Execution{}, false
	}
	return exec, true
}

// handleDLQ returns the dead-lettered execution ids.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DLQPeek(r.Context(), dlqPeekLimit)
	if err != nil {
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "failed to read dlq")
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func newProblem(r *http.Request, code int, kind, detail string) *problems.DefaultProblem {
	return problems.NewStatusProblem(code).
		WithInstance(r.URL.Path).
		WithType(kind).
		WithDetail(detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, kind, detail string) {
	writeJSONType(w, problemContentType, code, problem{DefaultProblem: newProblem(r, code, kind, detail)})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	writeJSONType(w, "application/json", code, payload)
}

func writeJSONType(w http.ResponseWriter, contentType string, code int, payload any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
