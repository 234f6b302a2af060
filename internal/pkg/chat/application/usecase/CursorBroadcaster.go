package usecase

import (
	"context"
	"log/slog"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// CursorInterval caps cursor writes per user.
const CursorInterval = 100 * time.Millisecond

// CursorBroadcaster shares pointer positions between users looking at the same page.
type CursorBroadcaster struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger

	throttle *schedule.Throttler
}

func NewCursorBroadcaster(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *CursorBroadcaster {
	return &CursorBroadcaster{
		Feed:     f,
		Clock:    clock,
		Logger:   logger,
		throttle: schedule.NewThrottler(clock, CursorInterval),
	}
}

// Move publishes userID's cursor. Within one interval only the first and the latest position
// are written.
func (c *CursorBroadcaster) Move(ctx context.Context, userID, page string, pos chat.Position) {
	if userID == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	c.throttle.Do(userID, func() {
		c.write(bg, chat.CursorSignal{
			UserID:   userID,
			Position: pos,
			Page:     page,
			LastSeen: c.Clock.Now().UTC(),
			IsActive: true,
		})
	})
}

// Hide marks userID's cursor inactive and drops any position still waiting to be written.
func (c *CursorBroadcaster) Hide(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	c.throttle.Cancel(userID)

	ctx, cancel := withStoreTimeout(context.WithoutCancel(ctx))
	defer cancel()
	err := c.Feed.Merge(ctx, chat.CursorPath(userID), map[string]any{
		"userId":   userID,
		"isActive": false,
		"lastSeen": c.Clock.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		c.Logger.Debug("cursor hide failed", "user_id", userID, "error", err)
	}
}

func (c *CursorBroadcaster) write(ctx context.Context, sig chat.CursorSignal) {
	record, err := chat.Encode(sig)
	if err == nil {
		wctx, cancel := withStoreTimeout(ctx)
		err = c.Feed.Write(wctx, chat.CursorPath(sig.UserID), record)
		cancel()
	}
	if err != nil {
		c.Logger.Debug("cursor write failed", "user_id", sig.UserID, "error", err)
	}
}

// Visible returns the cursors viewerID should draw on page at now. Stale and off-page cursors
// are filtered, not deleted.
func (c *CursorBroadcaster) Visible(cursors []chat.CursorSignal, viewerID, page string, now time.Time) []chat.CursorSignal {
	return VisibleCursors(cursors, viewerID, page, now)
}

func VisibleCursors(cursors []chat.CursorSignal, viewerID, page string, now time.Time) []chat.CursorSignal {
	out := make([]chat.CursorSignal, 0, len(cursors))
	for _, cur := range cursors {
		if cur.VisibleTo(viewerID, page, now) {
			out = append(out, cur)
		}
	}
	return out
}

// Subscribe delivers every stored cursor on each change.
func (c *CursorBroadcaster) Subscribe(ctx context.Context, fn func([]chat.CursorSignal)) (feed.Unsubscribe, error) {
	unsub, err := c.Feed.Subscribe(ctx, chat.CursorsRoot, func(value any) {
		cursors, _ := chat.DecodeChildren(value, func(s *chat.CursorSignal, id string) { s.UserID = id })
		fn(cursors)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

func (c *CursorBroadcaster) Close() {
	c.throttle.Stop()
}
