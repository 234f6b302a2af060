package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

func TestTypingLifecycle(t *testing.T) {
	fx := newFixture(t)
	typing := NewTypingCoordinator(fx.feed, fx.clock, fx.logger)
	defer typing.Close()

	var signals []chat.TypingSignal
	unsub, err := typing.Subscribe(fx.ctx, "c1", func(s []chat.TypingSignal) { signals = s })
	require.NoError(t, err)
	defer unsub()

	typing.SetTyping(fx.ctx, "c1", "bob", true)
	require.Len(t, signals, 1)
	assert.Equal(t, "bob", signals[0].UserID)
	assert.True(t, signals[0].IsTyping)

	// Another keystroke pushes the automatic clear out.
	fx.clock.Advance(2 * time.Second)
	typing.SetTyping(fx.ctx, "c1", "bob", true)
	fx.clock.Advance(2 * time.Second)
	require.Len(t, signals, 1)

	fx.clock.Advance(TypingIdle)
	assert.Empty(t, signals)

	typing.SetTyping(fx.ctx, "c1", "bob", true)
	typing.SetTyping(fx.ctx, "c1", "bob", false)
	assert.Empty(t, signals)
	assert.Zero(t, fx.clock.Pending())
}

func TestTypingActiveBoundary(t *testing.T) {
	fx := newFixture(t)
	typing := NewTypingCoordinator(fx.feed, fx.clock, fx.logger)
	now := epoch.Add(time.Hour)

	signals := []chat.TypingSignal{
		{UserID: "fresh", IsTyping: true, LastUpdate: now.Add(-4999 * time.Millisecond)},
		{UserID: "stale", IsTyping: true, LastUpdate: now.Add(-5000 * time.Millisecond)},
		{UserID: "self", IsTyping: true, LastUpdate: now},
		{UserID: "stopped", IsTyping: false, LastUpdate: now},
	}
	active := typing.Active(signals, "self", now)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].UserID)
}

func TestTypingSwallowsErrors(t *testing.T) {
	fx := newFixture(t)
	typing := NewTypingCoordinator(fx.feed, fx.clock, fx.logger)
	require.NoError(t, fx.feed.Close())

	assert.NotPanics(t, func() {
		typing.SetTyping(fx.ctx, "c1", "bob", true)
		fx.clock.Advance(TypingIdle)
		typing.SetTyping(fx.ctx, "c1", "bob", false)
	})
}

func TestCursorThrottle(t *testing.T) {
	fx := newFixture(t)
	cursors := NewCursorBroadcaster(fx.feed, fx.clock, fx.logger)
	defer cursors.Close()
	writes := fx.deliveries(t, chat.CursorsRoot)

	cursors.Move(fx.ctx, "bob", "/board", chat.Position{X: 1, Y: 1})
	cursors.Move(fx.ctx, "bob", "/board", chat.Position{X: 2, Y: 2})
	cursors.Move(fx.ctx, "bob", "/board", chat.Position{X: 3, Y: 3})
	assert.Equal(t, 1, writes())

	fx.clock.Advance(CursorInterval)
	assert.Equal(t, 2, writes())

	var sig chat.CursorSignal
	require.True(t, fx.get(t, chat.CursorPath("bob"), &sig))
	assert.Equal(t, chat.Position{X: 3, Y: 3}, sig.Position)
	assert.True(t, sig.IsActive)

	fx.clock.Advance(time.Second)
	assert.Equal(t, 2, writes())
}

func TestCursorVisibility(t *testing.T) {
	fx := newFixture(t)
	cursors := NewCursorBroadcaster(fx.feed, fx.clock, fx.logger)
	defer cursors.Close()

	var all []chat.CursorSignal
	unsub, err := cursors.Subscribe(fx.ctx, func(c []chat.CursorSignal) { all = c })
	require.NoError(t, err)
	defer unsub()

	cursors.Move(fx.ctx, "bob", "/board", chat.Position{X: 10})
	cursors.Move(fx.ctx, "carol", "/settings", chat.Position{X: 20})
	cursors.Move(fx.ctx, "alice", "/board", chat.Position{X: 30})
	require.Len(t, all, 3)

	visible := cursors.Visible(all, "alice", "/board", fx.clock.Now())
	require.Len(t, visible, 1)
	assert.Equal(t, "bob", visible[0].UserID)

	assert.Len(t, cursors.Visible(all, "alice", "/board", fx.clock.Now().Add(29999*time.Millisecond)), 1)
	assert.Empty(t, cursors.Visible(all, "alice", "/board", fx.clock.Now().Add(30*time.Second)))

	cursors.Hide(fx.ctx, "bob")
	assert.Empty(t, cursors.Visible(all, "alice", "/board", fx.clock.Now()))
	assert.Len(t, all, 3)
}

func TestPresenceConnectHeartbeatRelease(t *testing.T) {
	fx := newFixture(t)
	fx.addUser(t, "bob", "Bob")
	presence := NewPresenceTracker(fx.feed, fx.clock, fx.logger)
	defer presence.Close()

	first := presence.Connect(fx.ctx, "bob")
	second := presence.Connect(fx.ctx, "bob")

	var u chat.User
	require.True(t, fx.get(t, chat.UserPath("bob"), &u))
	assert.True(t, presence.IsOnline(u))

	fx.clock.Advance(PresenceHeartbeat * 4)
	require.True(t, fx.get(t, chat.UserPath("bob"), &u))
	assert.True(t, presence.IsOnline(u))
	assert.Equal(t, "Bob", u.Name)

	first()
	first()
	require.True(t, fx.get(t, chat.UserPath("bob"), &u))
	assert.True(t, u.Online)

	second()
	require.True(t, fx.get(t, chat.UserPath("bob"), &u))
	assert.False(t, u.Online)
	assert.Empty(t, presence.Connected())
	assert.Zero(t, fx.clock.Pending())
}

func TestPresenceIgnoresUnknownUsers(t *testing.T) {
	fx := newFixture(t)
	presence := NewPresenceTracker(fx.feed, fx.clock, fx.logger)
	defer presence.Close()

	release := presence.Connect(fx.ctx, "ghost")
	defer release()
	assert.False(t, fx.get(t, chat.UserPath("ghost"), &chat.User{}))
}

func TestPresenceSweep(t *testing.T) {
	fx := newFixture(t)
	now := fx.clock.Now()
	fx.put(t, chat.UserPath("fresh"), chat.User{Name: "Fresh", Online: true, LastSeen: now.Add(-10 * time.Second)})
	fx.put(t, chat.UserPath("stale"), chat.User{Name: "Stale", Online: true, LastSeen: now.Add(-2 * time.Minute)})
	fx.put(t, chat.UserPath("away"), chat.User{Name: "Away", Online: false, LastSeen: now.Add(-time.Hour)})

	presence := NewPresenceTracker(fx.feed, fx.clock, fx.logger)
	n, err := presence.Sweep(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var u chat.User
	require.True(t, fx.get(t, chat.UserPath("stale"), &u))
	assert.False(t, u.Online)
	require.True(t, fx.get(t, chat.UserPath("fresh"), &u))
	assert.True(t, u.Online)

	n, err = presence.Sweep(fx.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
