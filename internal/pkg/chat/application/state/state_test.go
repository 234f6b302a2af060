package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestReduceDoesNotMutateInput(t *testing.T) {
	before := Initial()
	before = Reduce(before, MessagesChanged{ConversationID: "c1", Messages: []chat.Message{{ID: "m1"}}})

	after := Reduce(before, MessagesChanged{ConversationID: "c2", Messages: []chat.Message{{ID: "m2"}}})
	assert.Len(t, before.MessagesByConversation, 1)
	assert.Len(t, after.MessagesByConversation, 2)

	echoed := Reduce(after, PendingEchoAdded{Message: chat.Message{ClientID: "x", ConversationID: "c1"}})
	assert.Empty(t, after.Pending)
	assert.Len(t, echoed.Pending, 1)
}

func TestPendingEchoLifecycle(t *testing.T) {
	s := Initial()
	s = Reduce(s, MessagesChanged{ConversationID: "c1", Messages: []chat.Message{
		{ID: "m1", ConversationID: "c1", Content: "old", Timestamp: t0},
	}})
	s = Reduce(s, PendingEchoAdded{Message: chat.Message{
		ClientID: "tmp-1", ConversationID: "c1", Content: "hi", Timestamp: t0.Add(time.Second),
	}})

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Pending)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Empty(t, s.Messages("c2"))

	// The authoritative copy replaces the echo; nothing is shown twice.
	s = Reduce(s, MessagesChanged{ConversationID: "c1", Messages: []chat.Message{
		{ID: "m1", ConversationID: "c1", Content: "old", Timestamp: t0},
		{ID: "m2", ConversationID: "c1", Content: "hi", ClientID: "tmp-1", Timestamp: t0.Add(2 * time.Second)},
	}})
	msgs = s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.False(t, msgs[1].Pending)
	assert.Empty(t, s.Pending)
}

func TestPendingEchoDropped(t *testing.T) {
	s := Initial()
	s = Reduce(s, PendingEchoAdded{Message: chat.Message{ClientID: "tmp-1", ConversationID: "c1"}})
	s = Reduce(s, PendingEchoDropped{ClientID: "tmp-1"})
	assert.Empty(t, s.Messages("c1"))

	same := Reduce(s, PendingEchoDropped{ClientID: "unknown"})
	assert.Equal(t, s, same)
}

func TestLoadingTracksOverlappingCommands(t *testing.T) {
	s := Initial()
	s = Reduce(s, CommandStarted{Name: "send"})
	s = Reduce(s, CommandStarted{Name: "search"})
	assert.True(t, s.Loading)

	s = Reduce(s, CommandFinished{Name: "send"})
	assert.True(t, s.Loading)
	s = Reduce(s, CommandFinished{Name: "search"})
	assert.False(t, s.Loading)

	s = Reduce(s, CommandFinished{Name: "extra"})
	assert.False(t, s.Loading)
}

func TestErrorsAndSelection(t *testing.T) {
	s := Initial()
	s = Reduce(s, ErrorRaised{Message: "store unavailable"})
	assert.Equal(t, "store unavailable", s.Error)
	s = Reduce(s, ErrorCleared{})
	assert.Empty(t, s.Error)

	s = Reduce(s, CurrentConversationSet{ConversationID: "c9"})
	assert.Equal(t, "c9", s.CurrentConversation)

	s = Reduce(s, ConversationsChanged{Conversations: []chat.Conversation{{ID: "c9", Name: "Ops"}}})
	c, ok := s.Conversation("c9")
	require.True(t, ok)
	assert.Equal(t, "Ops", c.Name)

	s = Reduce(s, UsersChanged{Users: []chat.User{{ID: "u1", Name: "Ada"}}})
	u, ok := s.User("u1")
	require.True(t, ok)
	assert.Equal(t, "Ada", u.Name)
	_, ok = s.User("u2")
	assert.False(t, ok)
}

func TestActiveTypers(t *testing.T) {
	s := Reduce(Initial(), TypingChanged{ConversationID: "c1", Signals: []chat.TypingSignal{
		{UserID: "me", IsTyping: true, LastUpdate: t0},
		{UserID: "bob", IsTyping: true, LastUpdate: t0},
		{UserID: "carol", IsTyping: true, LastUpdate: t0.Add(-10 * time.Second)},
	}})

	got := s.ActiveTypers("c1", "me", t0.Add(4999*time.Millisecond))
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
	assert.Empty(t, s.ActiveTypers("c1", "me", t0.Add(5*time.Second)))
}
