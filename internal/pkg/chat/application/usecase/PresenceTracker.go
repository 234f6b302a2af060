package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// PresenceHeartbeat is how often a connected user's lastSeen is refreshed. It stays well inside
// chat.PresenceTTL so a single missed beat does not flip the user offline.
const PresenceHeartbeat = 20 * time.Second

// PresenceTracker keeps users/{id}.online and lastSeen current for users connected to this
// process. A silent disconnect is caught by the staleness window and by Sweep.
type PresenceTracker struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger

	mu     sync.Mutex
	leases map[string]*presenceLease
}

type presenceLease struct {
	refs int
	stop func()
}

func NewPresenceTracker(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{Feed: f, Clock: clock, Logger: logger, leases: make(map[string]*presenceLease)}
}

// Connect marks userID online and keeps the mark fresh until the returned release is called.
// Several connections of one user share a single heartbeat; the user goes offline when the
// last one is released.
func (p *PresenceTracker) Connect(ctx context.Context, userID string) (release func()) {
	if userID == "" {
		return func() {}
	}
	p.mu.Lock()
	lease := p.leases[userID]
	if lease == nil {
		lease = &presenceLease{}
		p.leases[userID] = lease
		bg := context.WithoutCancel(ctx)
		lease.stop = schedule.Every(p.Clock, PresenceHeartbeat, func() { p.mark(bg, userID, true) })
	}
	lease.refs++
	p.mu.Unlock()

	p.mark(ctx, userID, true)

	var once sync.Once
	return func() {
		once.Do(func() { p.release(context.WithoutCancel(ctx), userID) })
	}
}

func (p *PresenceTracker) release(ctx context.Context, userID string) {
	p.mu.Lock()
	lease := p.leases[userID]
	if lease == nil {
		p.mu.Unlock()
		return
	}
	lease.refs--
	if lease.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.leases, userID)
	p.mu.Unlock()

	lease.stop()
	p.mark(ctx, userID, false)
}

// Disconnect marks userID offline now, dropping every local connection of that user.
func (p *PresenceTracker) Disconnect(ctx context.Context, userID string) {
	p.mu.Lock()
	lease := p.leases[userID]
	delete(p.leases, userID)
	p.mu.Unlock()

	if lease != nil {
		lease.stop()
	}
	p.mark(ctx, userID, false)
}

// Connected lists the users holding a local lease.
func (p *PresenceTracker) Connected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.leases))
	for id := range p.leases {
		out = append(out, id)
	}
	return out
}

// Close stops every heartbeat without touching the store.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	leases := p.leases
	p.leases = make(map[string]*presenceLease)
	p.mu.Unlock()
	for _, l := range leases {
		l.stop()
	}
}

// mark updates an existing user's presence. Failures are only logged.
func (p *PresenceTracker) mark(ctx context.Context, userID string, online bool) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	now := p.Clock.Now().UTC()
	_, err := updateRecord(ctx, p.Feed, chat.UserPath(userID), func(u *chat.User, exists bool) (mutation, error) {
		if !exists {
			return keep, nil
		}
		u.Online = online
		u.LastSeen = now
		return store, nil
	})
	if err != nil {
		p.Logger.Debug("presence write failed", "user_id", userID, "online", online, "error", err)
	}
}

// IsOnline applies the staleness window to a user record.
func (p *PresenceTracker) IsOnline(u chat.User) bool {
	return u.OnlineAt(p.Clock.Now())
}

// Sweep marks every user whose presence has gone stale as offline and reports how many records
// it changed. It is safe to run from several processes at once.
func (p *PresenceTracker) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	value, err := p.Feed.ReadOnce(ctx, chat.UsersRoot)
	if err != nil {
		return 0, transient(err)
	}
	users, _ := chat.DecodeChildren(value, func(u *chat.User, id string) { u.ID = id })

	now := p.Clock.Now()
	flipped := 0
	for _, u := range users {
		if !u.Online || u.OnlineAt(now) {
			continue
		}
		changed := false
		_, err := updateRecord(ctx, p.Feed, chat.UserPath(u.ID), func(cur *chat.User, exists bool) (mutation, error) {
			changed = false
			if !exists || !cur.Online || cur.OnlineAt(now) {
				return keep, nil
			}
			cur.Online = false
			changed = true
			return store, nil
		})
		if err != nil {
			return flipped, transient(err)
		}
		if changed {
			flipped++
		}
	}
	if flipped > 0 {
		p.Logger.Info("stale presence swept", "count", flipped)
	}
	return flipped, nil
}
