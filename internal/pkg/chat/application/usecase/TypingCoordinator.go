package usecase

import (
	"context"
	"log/slog"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// TypingIdle is how long after the last keystroke a typing signal clears itself.
const TypingIdle = 3 * time.Second

// TypingCoordinator publishes and filters typing signals. Writes are fire-and-forget: a lost
// signal is repaired by the next keystroke or hidden by the staleness window.
type TypingCoordinator struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger

	idle *schedule.Debouncer
}

func NewTypingCoordinator(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		Feed:   f,
		Clock:  clock,
		Logger: logger,
		idle:   schedule.NewDebouncer(clock, TypingIdle),
	}
}

// SetTyping records or clears userID's typing signal in a conversation. While typing, each
// call pushes the automatic clear further out.
func (t *TypingCoordinator) SetTyping(ctx context.Context, conversationID, userID string, typing bool) {
	if conversationID == "" || userID == "" {
		return
	}
	key := conversationID + "/" + userID
	bg := context.WithoutCancel(ctx)

	if !typing {
		t.idle.Cancel(key)
		t.clear(bg, conversationID, userID)
		return
	}

	now := t.Clock.Now().UTC()
	record, err := chat.Encode(chat.TypingSignal{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       true,
		StartedAt:      now,
		LastUpdate:     now,
	})
	if err == nil {
		wctx, cancel := withStoreTimeout(bg)
		err = t.Feed.Write(wctx, chat.TypingSignalPath(conversationID, userID), record)
		cancel()
	}
	if err != nil {
		t.Logger.Debug("typing write failed", "conversation_id", conversationID, "user_id", userID, "error", err)
	}
	t.idle.Schedule(key, func() { t.clear(bg, conversationID, userID) })
}

func (t *TypingCoordinator) clear(ctx context.Context, conversationID, userID string) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()
	if err := t.Feed.Delete(ctx, chat.TypingSignalPath(conversationID, userID)); err != nil {
		t.Logger.Debug("typing clear failed", "conversation_id", conversationID, "user_id", userID, "error", err)
	}
}

// Active returns the signals that count as typing at now, excluding selfID.
func (t *TypingCoordinator) Active(signals []chat.TypingSignal, selfID string, now time.Time) []chat.TypingSignal {
	return ActiveTypers(signals, selfID, now)
}

func ActiveTypers(signals []chat.TypingSignal, selfID string, now time.Time) []chat.TypingSignal {
	out := make([]chat.TypingSignal, 0, len(signals))
	for _, s := range signals {
		if s.UserID == selfID || !s.Active(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Subscribe delivers the raw signals of a conversation. Staleness depends on the time of
// rendering, so filtering is left to the consumer.
func (t *TypingCoordinator) Subscribe(ctx context.Context, conversationID string, fn func([]chat.TypingSignal)) (feed.Unsubscribe, error) {
	unsub, err := t.Feed.Subscribe(ctx, chat.TypingPath(conversationID), func(value any) {
		signals, _ := chat.DecodeChildren(value, func(s *chat.TypingSignal, id string) {
			s.UserID = id
			if s.ConversationID == "" {
				s.ConversationID = conversationID
			}
		})
		fn(signals)
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

// Close drops every pending automatic clear.
func (t *TypingCoordinator) Close() {
	t.idle.Stop()
}
