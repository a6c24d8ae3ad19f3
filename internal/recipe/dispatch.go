package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"report-dispatcher/internal/telemetry"
)

// DispatchPolicy decides what happens after a recipient fails.
type DispatchPolicy string

const (
	// DispatchHalt stops at the first failed recipient.
	DispatchHalt DispatchPolicy = "halt"
	// DispatchIsolate attempts every recipient and reports all failures.
	DispatchIsolate DispatchPolicy = "isolate"
)

// ParseDispatchPolicy parses a policy name; empty means DispatchHalt.
func ParseDispatchPolicy(s string) (DispatchPolicy, error) {
	switch DispatchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DispatchHalt:
		return DispatchHalt, nil
	case DispatchIsolate:
		return DispatchIsolate, nil
	default:
		return "", fmt.Errorf("unknown dispatch policy %q", s)
	}
}

// OutcomeStatus is the per-recipient enqueue result.
type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome records what happened to one recipient.
type Outcome struct {
	Recipient Recipient
	Status    OutcomeStatus
	Err       error
}

// Dispatcher enqueues one notification per recipient.
type Dispatcher struct {
	enqueuer Enqueuer
	policy   DispatchPolicy
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(enqueuer Enqueuer, policy DispatchPolicy, logger *slog.Logger) *Dispatcher {
	if policy == "" {
		policy = DispatchHalt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{enqueuer: enqueuer, policy: policy, logger: logger}
}

// Dispatch enqueues the channel message of every recipient in order. Under
// DispatchHalt the first failure is returned and later recipients are not
// attempted. Under DispatchIsolate the joined failures are returned once all
// recipients were attempted. Each failure is a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Recipient, messages map[Channel]Message) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(recipients))
	var errs []error
	for _, rcpt := range recipients {
		label := telemetry.ChannelLabel(string(rcpt.Method), rcpt.Method.Supported())
		if err := d.send(ctx, rcpt, messages); err != nil {
			derr := &DispatchError{Recipient: rcpt, Err: err}
			outcomes = append(outcomes, Outcome{Recipient: rcpt, Status: OutcomeFailed, Err: derr})
			telemetry.DispatchFailures.WithLabelValues(label).Inc()
			d.logger.WarnContext(ctx, "dispatch failed", "method", rcpt.Method, "error", err)
			if d.policy != DispatchIsolate {
				return outcomes, derr
			}
			errs = append(errs, derr)
			continue
		}
		outcomes = append(outcomes, Outcome{Recipient: rcpt, Status: OutcomeSent})
		telemetry.MessagesEnqueued.WithLabelValues(label).Inc()
	}
	return outcomes, errors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, rcpt Recipient, messages map[Channel]Message) error {
	var msg Message
	switch rcpt.Method {
	case ChannelEmail, ChannelSMS:
		m, ok := messages[rcpt.Method]
		if !ok {
			return &UnsupportedChannelError{Channel: rcpt.Method}
		}
		msg = m
	default:
		return &UnsupportedChannelError{Channel: rcpt.Method}
	}
	return d.enqueuer.Enqueue(ctx, Notification{
		Channel: rcpt.Method,
		Address: rcpt.Value,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
}
