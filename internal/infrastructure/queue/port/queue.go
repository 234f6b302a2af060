package port

import (
	"context"
	"errors"
	"time"
)

// Task is a background job: a stable type name and an opaque payload. Payload encoding is up
// to the task's owner.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error retries the task per adapter policy unless it
// wraps ErrSkipRetry. Handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// ErrSkipRetry marks a failure retrying cannot fix, such as a malformed payload.
var ErrSkipRetry = errors.New("queue: skip retry")

// EnqueueOption controls enqueue behavior. Zero values mean "unspecified".
type EnqueueOption struct {
	Queue     string        // logical queue name
	ProcessIn time.Duration // delay before processing
	ProcessAt time.Time     // absolute schedule time, wins over ProcessIn
	MaxRetry  int
	UniqueTTL time.Duration // drop duplicates of the same task inside this window
	Timeout   time.Duration // per-attempt processing budget
	Retention time.Duration // keep the result this long
}

type Client interface {
	Enqueue(ctx context.Context, t Task, opt EnqueueOption) (id string, err error)
	Close() error
}

// Server runs background workers. Run blocks until ctx is canceled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}

// Scheduler enqueues tasks on a cron spec such as "@every 1m". Run blocks until ctx is
// canceled.
type Scheduler interface {
	Register(spec string, t Task, opt EnqueueOption) (id string, err error)
	Run(ctx context.Context) error
}
