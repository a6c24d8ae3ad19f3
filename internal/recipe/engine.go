package recipe

import "context"

// QueryHandle identifies one submitted query on the engine.
type QueryHandle string

// QueryState is the engine-reported lifecycle state of a query.
type QueryState string

const (
	StateQueued    QueryState = "QUEUED"
	StateRunning   QueryState = "RUNNING"
	StateSucceeded QueryState = "SUCCEEDED"
	StateFailed    QueryState = "FAILED"
	StateCancelled QueryState = "CANCELLED"
)

// Terminal reports whether the engine will not move the query further.
// Unknown states count as terminal.
func (s QueryState) Terminal() bool {
	return s != StateQueued && s != StateRunning
}

// QueryStatus is one status observation.
type QueryStatus struct {
	State  QueryState
	Detail string
}

// PageRequest asks for one page of results. An empty Cursor asks for the first page.
type PageRequest struct {
	Cursor  string
	MaxRows int32
}

// Page is one page of raw rows plus the cursor of the next page, if any.
type Page struct {
	Rows       []Row
	NextCursor string
}

// QueryEngine is the remote analytical query service.
type QueryEngine interface {
	Submit(ctx context.Context, query, workGroup string) (QueryHandle, error)
	Status(ctx context.Context, h QueryHandle) (QueryStatus, error)
	Page(ctx context.Context, h QueryHandle, req PageRequest) (Page, error)
	Stop(ctx context.Context, h QueryHandle) error
}

// Notification is one message handed to the outbound queue.
type Notification struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

// Enqueuer accepts notifications for later delivery. A nil error means the
// queue accepted the message, not that it was delivered.
type Enqueuer interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Renderer renders a template source against the full record set.
type Renderer interface {
	Render(source string, records []Record) (string, error)
}
