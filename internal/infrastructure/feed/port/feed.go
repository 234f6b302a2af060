package port

import (
	"context"
	"errors"
	"strings"
)

// Feed is the keyed tree store the synchronization core runs on.
//
// Values are JSON-compatible (maps, slices, strings, float64, bool, nil). Paths are slash
// separated, e.g. "messages/{conversationId}/{messageId}". Reading a path that holds no record
// returns a one-level map of its child records, or nil when nothing is stored below it.
//
// Implementations must be safe for concurrent use. Writes to different paths carry no ordering
// guarantee relative to each other; Batch and Transact are the only atomic multi-step operations.
type Feed interface {
	// ReadOnce returns the current value at path, or nil.
	ReadOnce(ctx context.Context, path string) (any, error)

	// Subscribe delivers the current value at path immediately and again after every change at,
	// above or below path. Deliveries for a single subscription never overlap.
	Subscribe(ctx context.Context, path string, fn SnapshotFunc) (Unsubscribe, error)

	// Write replaces the value at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error

	// Merge shallow-merges partial into the map stored at path, creating it when absent.
	Merge(ctx context.Context, path string, partial map[string]any) error

	// Append returns a fresh, collision-free, roughly time-ordered child id under path.
	// Nothing is written; callers follow up with Write on path/id.
	Append(ctx context.Context, path string) (string, error)

	// Delete removes path and everything below it.
	Delete(ctx context.Context, path string) error

	// Batch applies every op atomically.
	Batch(ctx context.Context, ops ...Op) error

	// Transact runs fn against the current value at path and stores its result only if the
	// value did not change in between; fn may therefore run more than once. A nil result
	// deletes the record. An error from fn aborts without writing and is returned as is.
	Transact(ctx context.Context, path string, fn TransactFunc) (any, error)

	Close() error
}

// SnapshotFunc receives the full current value at a subscribed path.
type SnapshotFunc func(value any)

// Unsubscribe tears a subscription down. Calling it more than once is harmless.
type Unsubscribe func()

// TransactFunc maps the current value at a path to its replacement.
type TransactFunc func(current any) (any, error)

// OpKind selects what a batched Op does.
type OpKind int

const (
	OpWrite OpKind = iota
	OpMerge
	OpDelete
)

// Op is one step of a Batch.
type Op struct {
	Kind  OpKind
	Path  string
	Value any
}

func WriteOp(path string, value any) Op { return Op{Kind: OpWrite, Path: path, Value: value} }

func MergeOp(path string, partial map[string]any) Op {
	return Op{Kind: OpMerge, Path: path, Value: partial}
}

func DeleteOp(path string) Op { return Op{Kind: OpDelete, Path: path} }

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("feed: invalid path")
	// ErrNotMap is returned when merging into a value that is not an object.
	ErrNotMap = errors.New("feed: value at path is not an object")
	// ErrConflict is returned when a transaction keeps losing the race for its path.
	ErrConflict = errors.New("feed: transaction conflict")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("feed: closed")
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}

// Parent splits path into its parent path and last segment. Top-level paths have an empty parent.
func Parent(path string) (parent, name string, err error) {
	parts, err := Split(path)
	if err != nil {
		return "", "", err
	}
	return Join(parts[:len(parts)-1]...), parts[len(parts)-1], nil
}

// Related reports whether a change at changed is visible to a subscriber of watched, i.e. one
// path equals or contains the other.
func Related(watched, changed string) bool {
	watched = strings.Trim(watched, "/")
	changed = strings.Trim(changed, "/")
	if watched == changed {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/")
}
