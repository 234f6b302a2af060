package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedadapter "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/adapter"
	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/state"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// flakyFeed fails batched writes while broken is set and withholds message snapshots while
// lagging is set.
type flakyFeed struct {
	*feedadapter.MemoryFeed
	broken  atomic.Bool
	lagging atomic.Bool
}

func (f *flakyFeed) Subscribe(ctx context.Context, path string, fn feed.SnapshotFunc) (feed.Unsubscribe, error) {
	if !strings.HasPrefix(path, "messages/") {
		return f.MemoryFeed.Subscribe(ctx, path, fn)
	}
	return f.MemoryFeed.Subscribe(ctx, path, func(value any) {
		if f.lagging.Load() {
			return
		}
		fn(value)
	})
}

func (f *flakyFeed) Batch(ctx context.Context, ops ...feed.Op) error {
	if f.broken.Load() {
		return errors.New("connection reset")
	}
	return f.MemoryFeed.Batch(ctx, ops...)
}

type harness struct {
	ctx   context.Context
	feed  *flakyFeed
	clock *schedule.ManualClock
	deps  Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := &flakyFeed{MemoryFeed: feedadapter.NewMemoryFeed()}
	t.Cleanup(func() { _ = f.Close() })
	clock := schedule.NewManualClock(epoch)
	return &harness{
		ctx:   context.Background(),
		feed:  f,
		clock: clock,
		deps: Deps{
			Feed:   f,
			Clock:  clock,
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func (h *harness) put(t *testing.T, path string, v any) {
	t.Helper()
	record, err := chat.Encode(v)
	require.NoError(t, err)
	require.NoError(t, h.feed.MemoryFeed.Write(h.ctx, path, record))
}

func (h *harness) controller(t *testing.T, userID string) *ChatController {
	t.Helper()
	c := New(h.deps, userID)
	t.Cleanup(c.Close)
	require.NoError(t, c.Start(h.ctx))
	return c
}

func ids(convs []chat.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func TestStartReconcilesProjectChats(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice"})
	h.put(t, "teams/t1", chat.Team{Name: "Core", Members: []string{"alice", "bob"}})
	h.put(t, "projects/p1", chat.Project{Name: "Apollo", TeamID: "t1"})

	alice := h.controller(t, "alice")
	st := alice.State()
	assert.Equal(t, []string{"project_p1"}, ids(st.Conversations))
	require.Len(t, st.Users, 1)
	assert.True(t, st.Users[0].Online)

	// bob's controller converges on the same record instead of creating another one.
	bob := h.controller(t, "bob")
	assert.Equal(t, []string{"project_p1"}, ids(bob.State().Conversations))

	// Archiving the project hides its chat everywhere.
	h.put(t, "projects/p1", chat.Project{Name: "Apollo", TeamID: "t1", Archived: true})
	assert.Empty(t, alice.State().Conversations)
	assert.Empty(t, bob.State().Conversations)
}

func TestTeamShrinkRemovesConversationForFormerMember(t *testing.T) {
	h := newHarness(t)
	h.put(t, "teams/t1", chat.Team{Members: []string{"alice", "bob"}})
	h.put(t, "projects/p1", chat.Project{Name: "Apollo", TeamID: "t1"})

	alice := h.controller(t, "alice")
	bob := h.controller(t, "bob")
	require.Len(t, bob.State().Conversations, 1)

	h.put(t, "teams/t1", chat.Team{Members: []string{"alice"}})
	assert.Empty(t, bob.State().Conversations)
	require.Len(t, alice.State().Conversations, 1)
	assert.Equal(t, []string{"alice"}, alice.State().Conversations[0].Participants)
}

func TestSendMessageShowsEchoUntilStored(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice"})
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := h.controller(t, "alice")
	conv, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, conv.ID))

	var sawEcho bool
	stop := alice.OnChange(func(s state.State) {
		for _, m := range s.Messages(conv.ID) {
			if m.Pending {
				sawEcho = true
			}
		}
	})
	defer stop()

	msg, err := alice.SendMessage(h.ctx, "", "hello bob")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, sawEcho)

	st := alice.State()
	msgs := st.Messages(conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "Alice", msgs[0].SenderName)
	assert.False(t, msgs[0].Pending)
	assert.Empty(t, st.Pending)
	assert.False(t, st.Loading)

	// bob opens the chat afterwards and sees the same history.
	bob := h.controller(t, "bob")
	require.Equal(t, []string{conv.ID}, ids(bob.State().Conversations))
	require.NoError(t, bob.SetCurrentConversation(h.ctx, conv.ID))
	bobMsgs := bob.State().Messages(conv.ID)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, "hello bob", bobMsgs[0].Content)
	require.NotNil(t, bob.State().Conversations[0].LastMessage)
	assert.Equal(t, msg.ID, bob.State().Conversations[0].LastMessage.ID)
}

func TestSendMessageStoreFailureRaisesError(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := h.controller(t, "alice")
	conv, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, conv.ID))

	h.feed.broken.Store(true)
	msg, err := alice.SendMessage(h.ctx, conv.ID, "lost")
	require.NoError(t, err)
	assert.Nil(t, msg)

	st := alice.State()
	assert.Contains(t, st.Error, "store unavailable")
	assert.Empty(t, st.Messages(conv.ID))
	assert.False(t, st.Loading)

	alice.ClearError()
	assert.Empty(t, alice.State().Error)
}

func TestStructuralErrorsAreReturned(t *testing.T) {
	h := newHarness(t)
	alice := h.controller(t, "alice")

	_, err := alice.SendMessage(h.ctx, "", "hi")
	assert.ErrorIs(t, err, chat.ErrInvalidArgument)

	_, err = alice.CreateDirectChat(h.ctx, "ghost")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = alice.SendMessage(h.ctx, "missing", "hi")
	assert.ErrorIs(t, err, chat.ErrNotFound)
	assert.Empty(t, alice.State().Pending)
	assert.Empty(t, alice.State().Error)

	anon := New(h.deps, "")
	defer anon.Close()
	assert.ErrorIs(t, anon.Start(h.ctx), chat.ErrUnauthenticated)
	_, err = anon.AddMember(h.ctx, "c1", "bob")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	_, err = anon.RemoveMember(h.ctx, "c1", "bob")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	_, err = anon.SearchUsers(h.ctx, "b")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)
	assert.False(t, anon.State().Loading)
}

func TestCreateDirectChatIsIdempotentAcrossUsers(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice"})
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := h.controller(t, "alice")
	bob := h.controller(t, "bob")

	a, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	b, err := bob.CreateDirectChat(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, alice.State().Conversations, 1)
}

func TestTypingIsVisibleToOthersOnly(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := h.controller(t, "alice")
	conv, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	bob := h.controller(t, "bob")

	require.NoError(t, alice.SetCurrentConversation(h.ctx, conv.ID))
	require.NoError(t, bob.SetCurrentConversation(h.ctx, conv.ID))

	require.NoError(t, alice.SetTyping(h.ctx, true))
	assert.Empty(t, alice.ActiveTypers())
	typers := bob.ActiveTypers()
	require.Len(t, typers, 1)
	assert.Equal(t, "alice", typers[0].UserID)

	require.NoError(t, alice.SetTyping(h.ctx, false))
	assert.Empty(t, bob.ActiveTypers())
}

func TestSwitchingConversationReplacesSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/bob", chat.User{Name: "Bob"})
	h.put(t, "users/carol", chat.User{Name: "Carol"})

	alice := h.controller(t, "alice")
	withBob, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	withCarol, err := alice.CreateDirectChat(h.ctx, "carol")
	require.NoError(t, err)

	require.NoError(t, alice.SetCurrentConversation(h.ctx, withBob.ID))
	require.NoError(t, alice.SetCurrentConversation(h.ctx, withCarol.ID))
	require.NoError(t, alice.SetCurrentConversation(h.ctx, withCarol.ID))

	// A message to the conversation no longer watched does not leave an echo behind.
	_, err = alice.SendMessage(h.ctx, withBob.ID, "ping")
	require.NoError(t, err)
	st := alice.State()
	assert.Empty(t, st.Pending)
	assert.Empty(t, st.Messages(withBob.ID))

	_, err = alice.SendMessage(h.ctx, "", "hi carol")
	require.NoError(t, err)
	assert.Len(t, alice.State().Messages(withCarol.ID), 1)

	require.NoError(t, alice.SetCurrentConversation(h.ctx, ""))
	assert.Empty(t, alice.State().CurrentConversation)
}

func TestSwitchingConversationDropsUnconfirmedEchoes(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/bob", chat.User{Name: "Bob"})
	h.put(t, "users/carol", chat.User{Name: "Carol"})

	alice := h.controller(t, "alice")
	withBob, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	withCarol, err := alice.CreateDirectChat(h.ctx, "carol")
	require.NoError(t, err)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, withBob.ID))

	// The stored message has not come back yet when alice moves on.
	h.feed.lagging.Store(true)
	_, err = alice.SendMessage(h.ctx, "", "still in flight")
	require.NoError(t, err)
	require.Len(t, alice.State().Pending, 1)

	require.NoError(t, alice.SetCurrentConversation(h.ctx, withCarol.ID))
	assert.Empty(t, alice.State().Pending)

	h.feed.lagging.Store(false)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, withBob.ID))
	msgs := alice.State().Messages(withBob.ID)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Pending)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice", Email: "alice@example.com"})
	h.put(t, "users/alan", chat.User{Name: "Alan", Email: "alan@example.com"})

	alice := h.controller(t, "alice")
	got, err := alice.SearchUsers(h.ctx, "al")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alan", got[0].ID)
}

func TestListenerDispatchIsDeliveredAfterItReturns(t *testing.T) {
	h := newHarness(t)
	alice := h.controller(t, "alice")

	var seen []string
	inside := false
	stop := alice.OnChange(func(s state.State) {
		assert.False(t, inside, "listener re-entered")
		inside = true
		defer func() { inside = false }()

		seen = append(seen, s.Error)
		if s.Error == "first" {
			alice.dispatch(state.ErrorRaised{Message: "second"})
			alice.dispatch(state.ErrorRaised{Message: "third"})
		}
	})
	defer stop()

	alice.dispatch(state.ErrorRaised{Message: "first"})
	// The two nested events collapse into one delivery of the newest state.
	assert.Equal(t, []string{"first", "third"}, seen)
	assert.Equal(t, "third", alice.State().Error)
}

func TestCloseReleasesPresenceAndSignals(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice"})
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := New(h.deps, "alice")
	require.NoError(t, alice.Start(h.ctx))
	conv, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, conv.ID))
	require.NoError(t, alice.SetTyping(h.ctx, true))
	alice.Cursors().Move(h.ctx, "alice", "/board", chat.Position{X: 1})

	alice.Close()
	alice.Close()

	value, err := h.feed.ReadOnce(h.ctx, chat.TypingPath(conv.ID))
	require.NoError(t, err)
	assert.Nil(t, value)

	var u chat.User
	v, err := h.feed.ReadOnce(h.ctx, chat.UserPath("alice"))
	require.NoError(t, err)
	require.NoError(t, chat.Decode(v, &u))
	assert.False(t, u.Online)

	var cur chat.CursorSignal
	v, err = h.feed.ReadOnce(h.ctx, chat.CursorPath("alice"))
	require.NoError(t, err)
	require.NoError(t, chat.Decode(v, &cur))
	assert.False(t, cur.IsActive)
	assert.Zero(t, h.clock.Pending())
}

func TestHandoffLeavesSignalsToSuccessor(t *testing.T) {
	h := newHarness(t)
	h.put(t, "users/alice", chat.User{Name: "Alice"})
	h.put(t, "users/bob", chat.User{Name: "Bob"})

	alice := New(h.deps, "alice")
	require.NoError(t, alice.Start(h.ctx))
	conv, err := alice.CreateDirectChat(h.ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, alice.SetCurrentConversation(h.ctx, conv.ID))
	require.NoError(t, alice.SetTyping(h.ctx, true))
	alice.Cursors().Move(h.ctx, "alice", "/board", chat.Position{X: 1})

	alice.Handoff()
	alice.Close()

	value, err := h.feed.ReadOnce(h.ctx, chat.TypingSignalPath(conv.ID, "alice"))
	require.NoError(t, err)
	assert.NotNil(t, value)

	var cur chat.CursorSignal
	v, err := h.feed.ReadOnce(h.ctx, chat.CursorPath("alice"))
	require.NoError(t, err)
	require.NoError(t, chat.Decode(v, &cur))
	assert.True(t, cur.IsActive)
	assert.Zero(t, h.clock.Pending())
}
