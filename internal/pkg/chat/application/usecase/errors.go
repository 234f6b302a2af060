package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// storeTimeout bounds a single round trip to the feed.
const storeTimeout = 5 * time.Second

// transient wraps a feed failure so callers can tell it apart from structural errors.
func transient(err error) error {
	if err == nil {
		return nil
	}
	if chat.IsStructural(err) || errors.Is(err, chat.ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %v", chat.ErrTransientIO, err)
}

func withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}
