package usecase

import (
	"context"
	"errors"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// mutation tells updateRecord what to do with the record once mutate has looked at it.
type mutation int

const (
	keep mutation = iota
	store
	remove
)

var errNoChange = errors.New("no change")

// updateRecord runs a compare-and-swap read-modify-write of the record at path. mutate gets a
// fresh decoded copy on every attempt and may run more than once; it must not touch the feed.
// The last decoded (and possibly mutated) record is returned.
func updateRecord[T any](ctx context.Context, f feed.Feed, path string, mutate func(rec *T, exists bool) (mutation, error)) (T, error) {
	var out T
	_, err := f.Transact(ctx, path, func(current any) (any, error) {
		var rec T
		exists := current != nil
		if exists {
			if err := chat.Decode(current, &rec); err != nil {
				return nil, err
			}
		}
		m, err := mutate(&rec, exists)
		out = rec
		if err != nil {
			return nil, err
		}
		switch m {
		case store:
			encoded, err := chat.Encode(rec)
			if err != nil {
				return nil, err
			}
			return encoded, nil
		case remove:
			if !exists {
				return nil, errNoChange
			}
			return nil, nil
		default:
			return nil, errNoChange
		}
	})
	if errors.Is(err, errNoChange) {
		return out, nil
	}
	return out, err
}

// readRecord loads the record at path into out and reports whether it exists.
func readRecord(ctx context.Context, f feed.Feed, path string, out any) (bool, error) {
	value, err := f.ReadOnce(ctx, path)
	if err != nil {
		return false, transient(err)
	}
	if value == nil {
		return false, nil
	}
	if err := chat.Decode(value, out); err != nil {
		return false, transient(err)
	}
	return true, nil
}
