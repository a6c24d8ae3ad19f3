package recipe

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed execution request or recipe reference.
// It is raised before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid execution request: %s: %s", e.Field, e.Reason)
}

// QueryExecutionError reports a query that reached a terminal state other than SUCCEEDED.
type QueryExecutionError struct {
	Handle QueryHandle
	State  QueryState
	Detail string
}

func (e *QueryExecutionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("query %s finished in state %s", e.Handle, e.State)
	}
	return fmt.Sprintf("query %s finished in state %s: %s", e.Handle, e.State, e.Detail)
}

// TimeoutError reports a query abandoned while still queued or running,
// either because the poll cap was reached or because the context ended.
type TimeoutError struct {
	Handle QueryHandle
	Polls  int
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query %s abandoned after %d status polls: %v", e.Handle, e.Polls, e.Err)
	}
	return fmt.Sprintf("query %s still running after %d status polls", e.Handle, e.Polls)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RenderError reports a template failure for one channel.
type RenderError struct {
	Channel Channel
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s message: %v", e.Channel, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// UnsupportedChannelError reports a recipient whose channel has no handler
// or no rendered message.
type UnsupportedChannelError struct {
	Channel Channel
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("unsupported channel %q", string(e.Channel))
}

// DispatchError reports a failed enqueue for one recipient.
type DispatchError struct {
	Recipient Recipient
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.Recipient.Method, e.Recipient.Value, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Permanent reports whether running the same request again cannot succeed.
func Permanent(err error) bool {
	var (
		verr *ValidationError
		rerr *RenderError
		cerr *UnsupportedChannelError
	)
	return errors.As(err, &verr) || errors.As(err, &rerr) || errors.As(err, &cerr)
}
