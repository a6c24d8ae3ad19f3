package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-dispatcher/internal/models"
	"report-dispatcher/internal/recipe"
	"report-dispatcher/internal/store"
)

type fakeStore struct {
	created  []store.CreateParams
	existing *models.Execution
	err      error
	failed   map[string]string
}

func (f *fakeStore) CreateExecution(_ context.Context, p store.CreateParams) (models.Execution, bool, error) {
	if f.err != nil {
		return models.Execution{}, false, f.err
	}
	if f.existing != nil {
		return *f.existing, true, nil
	}
	f.created = append(f.created, p)
	priority := p.Priority
	if priority == "" {
		priority = "default"
	}
	return models.Execution{
		ID:          "exec-1",
		Recipe:      p.Request.Recipe,
		Priority:    priority,
		Tenant:      p.Tenant,
		Request:     p.Request,
		Status:      models.StatusQueued,
		MaxAttempts: p.MaxAttempts,
		NextRunAt:   p.RunAt,
	}, false, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, lastErr string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = lastErr
	return nil
}

type fakeQueue struct {
	ids        []string
	priorities []string
	err        error
}

func (f *fakeQueue) Enqueue(_ context.Context, id, priority string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	f.priorities = append(f.priorities, priority)
	return nil
}

func (f *fakeQueue) Known(priority string) bool {
	return priority == "high" || priority == "default" || priority == "low"
}

type catalog map[string]recipe.Definition

func (c catalog) Lookup(id string) (recipe.Definition, bool) {
	d, ok := c[id]
	return d, ok
}

var known = catalog{"ORDER_CREATE": {ID: "ORDER_CREATE"}}

func validRequest() recipe.ExecutionRequest {
	return recipe.ExecutionRequest{
		Recipe:     "ORDER_CREATE",
		Criteria:   []recipe.Criterion{{Name: "By A Known Qualifier", Value: "a"}},
		Timeframe:  []time.Time{time.Date(2022, 10, 7, 0, 0, 0, 0, time.UTC), time.Date(2022, 10, 8, 0, 0, 0, 0, time.UTC)},
		Recipients: []recipe.Recipient{{Method: recipe.ChannelEmail, Value: "ops@example.com"}},
	}
}

func newService(st *fakeStore, q *fakeQueue) *Service {
	return NewService(st, q, known, Options{
		MaxAttempts:    3,
		IdempotencyTTL: time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	st, q := &fakeStore{}, &fakeQueue{}
	exec, reused, err := newService(st, q).Submit(context.Background(), Submission{
		Request:        validRequest(),
		Tenant:         "acme",
		Priority:       "high",
		IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "exec-1", exec.ID)
	assert.Equal(t, []string{"exec-1"}, q.ids)
	assert.Equal(t, []string{"high"}, q.priorities)

	require.Len(t, st.created, 1)
	assert.Equal(t, 3, st.created[0].MaxAttempts)
	assert.Equal(t, time.Hour, st.created[0].IdempotencyTTL)
	assert.Equal(t, "k-1", st.created[0].IdempotencyKey)
}

func TestSubmitIdempotentSkipsQueue(t *testing.T) {
	st := &fakeStore{existing: &models.Execution{ID: "old"}}
	q := &fakeQueue{}
	exec, reused, err := newService(st, q).Submit(context.Background(), Submission{Request: validRequest(), IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, "old", exec.ID)
	assert.Empty(t, q.ids)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	st, q := &fakeStore{}, &fakeQueue{}
	req := validRequest()
	req.Recipients = nil

	_, _, err := newService(st, q).Submit(context.Background(), Submission{Request: req})
	var verr *recipe.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "recipients", verr.Field)
	assert.Empty(t, st.created)
}

func TestSubmitRejectsUnknownRecipeAndPriority(t *testing.T) {
	svc := newService(&fakeStore{}, &fakeQueue{})
	req := validRequest()
	req.Recipe = "NOPE"
	_, _, err := svc.Submit(context.Background(), Submission{Request: req})
	var verr *recipe.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "recipe", verr.Field)

	_, _, err = svc.Submit(context.Background(), Submission{Request: validRequest(), Priority: "urgent"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "priority", verr.Field)
}

func TestSubmitEnqueueFailureMarksFailed(t *testing.T) {
	boom := errors.New("redis down")
	st := &fakeStore{}
	_, _, err := newService(st, &fakeQueue{err: boom}).Submit(context.Background(), Submission{Request: validRequest()})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "redis down", st.failed["exec-1"])
}

func TestSubmitStoreFailure(t *testing.T) {
	boom := errors.New("pg down")
	q := &fakeQueue{}
	_, _, err := newService(&fakeStore{err: boom}, q).Submit(context.Background(), Submission{Request: validRequest()})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, q.ids)
}
