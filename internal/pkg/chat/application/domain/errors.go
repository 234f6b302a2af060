package chat

import "errors"

var (
	ErrNotFound         = errors.New("chat: not found")
	ErrAlreadyExists    = errors.New("chat: already exists")
	ErrCapacityExceeded = errors.New("chat: session is full")
	ErrUnauthenticated  = errors.New("chat: no current user")
	ErrTransientIO      = errors.New("chat: store unavailable")
	ErrInvalidArgument  = errors.New("chat: invalid argument")
)

// IsStructural reports whether err must reach the caller instead of being surfaced as an
// error event.
func IsStructural(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInvalidArgument)
}
