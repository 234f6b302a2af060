package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

func newStream(t *testing.T, fx *fixture) (*MessageStream, *chat.Conversation) {
	t.Helper()
	reg := newRegistry(fx)
	conv, err := reg.CreateConversation(fx.ctx, CreateConversationInput{CreatorID: "alice", Name: "Ops", Participants: []string{"bob"}})
	require.NoError(t, err)
	return NewMessageStream(fx.feed, fx.clock, fx.logger), conv
}

func TestAppendUpdatesConversationAtomically(t *testing.T) {
	fx := newFixture(t)
	stream, conv := newStream(t, fx)
	fx.clock.Advance(time.Minute)

	msg, err := stream.Append(fx.ctx, AppendMessageInput{
		ConversationID: conv.ID, SenderID: "alice", SenderName: "Alice", Content: " hello ", ClientID: "c-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, chat.MessageTypeText, msg.Type)
	assert.True(t, msg.Timestamp.Equal(epoch.Add(time.Minute)))

	var stored chat.Conversation
	require.True(t, fx.get(t, chat.ConversationPath(conv.ID), &stored))
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, msg.ID, stored.LastMessage.ID)
	assert.Equal(t, "hello", stored.LastMessage.Content)
	assert.True(t, stored.UpdatedAt.Equal(msg.Timestamp))
	assert.Equal(t, "Ops", stored.Name)

	var record chat.Message
	require.True(t, fx.get(t, chat.MessagePath(conv.ID, msg.ID), &record))
	assert.Equal(t, "c-1", record.ClientID)
}

func TestAppendRejects(t *testing.T) {
	fx := newFixture(t)
	stream, conv := newStream(t, fx)

	_, err := stream.Append(fx.ctx, AppendMessageInput{ConversationID: "missing", SenderID: "alice", Content: "hi"})
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = stream.Append(fx.ctx, AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "   "})
	assert.ErrorIs(t, err, chat.ErrInvalidArgument)

	_, err = stream.Append(fx.ctx, AppendMessageInput{ConversationID: conv.ID, Content: "hi"})
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)

	msgs, err := stream.List(fx.ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSubscribeOrdersByTimestamp(t *testing.T) {
	fx := newFixture(t)
	stream, conv := newStream(t, fx)

	var got []chat.Message
	unsub, err := stream.Subscribe(fx.ctx, conv.ID, func(msgs []chat.Message) { got = msgs })
	require.NoError(t, err)
	defer unsub()

	// Arrival order 5, 1, 3.
	for _, sec := range []int{5, 1, 3} {
		ts := epoch.Add(time.Duration(sec) * time.Second)
		fx.put(t, chat.MessagePath(conv.ID, "m"+string(rune('0'+sec))), chat.Message{
			SenderID: "bob", Content: "x", Timestamp: ts, Type: chat.MessageTypeText,
		})
	}

	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m3", "m5"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, conv.ID, got[0].ConversationID)
}

func TestSendThenSubscribe(t *testing.T) {
	fx := newFixture(t)
	stream, conv := newStream(t, fx)

	sent, err := stream.Append(fx.ctx, AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "first"})
	require.NoError(t, err)

	var got []chat.Message
	unsub, err := stream.Subscribe(fx.ctx, conv.ID, func(msgs []chat.Message) { got = msgs })
	require.NoError(t, err)
	defer unsub()

	require.Len(t, got, 1)
	assert.Equal(t, sent.ID, got[0].ID)
	assert.Equal(t, "first", got[0].Content)
}

func TestEditAndSoftDelete(t *testing.T) {
	fx := newFixture(t)
	stream, conv := newStream(t, fx)

	msg, err := stream.Append(fx.ctx, AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "helo"})
	require.NoError(t, err)

	_, err = stream.Edit(fx.ctx, EditMessageInput{ConversationID: conv.ID, MessageID: msg.ID, EditorID: "bob", Content: "nope"})
	assert.ErrorIs(t, err, chat.ErrInvalidArgument)

	fx.clock.Advance(time.Second)
	edited, err := stream.Edit(fx.ctx, EditMessageInput{ConversationID: conv.ID, MessageID: msg.ID, EditorID: "alice", Content: "hello"})
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, "hello", edited.Content)

	var stored chat.Conversation
	require.True(t, fx.get(t, chat.ConversationPath(conv.ID), &stored))
	assert.Equal(t, "hello", stored.LastMessage.Content)

	deleted, err := stream.SoftDelete(fx.ctx, conv.ID, msg.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)

	msgs, err := stream.List(fx.ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)

	_, err = stream.SoftDelete(fx.ctx, conv.ID, "missing", "alice")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}
