package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
)

// MessageStream appends messages and turns message snapshots into ordered lists.
type MessageStream struct {
	Feed   feed.Feed
	Clock  schedule.Clock
	Logger *slog.Logger
}

func NewMessageStream(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *MessageStream {
	return &MessageStream{Feed: f, Clock: clock, Logger: logger}
}

// AppendMessageInput carries the data needed to send a new message.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Type           chat.MessageType
	// ClientID correlates the stored message with the sender's pending echo.
	ClientID string
}

// Append stores a new message and refreshes the conversation's lastMessage and updatedAt in
// the same atomic batch, so list views never point at a message that does not exist.
func (s *MessageStream) Append(ctx context.Context, in AppendMessageInput) (*chat.Message, error) {
	if in.SenderID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if in.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", chat.ErrInvalidArgument)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message is empty", chat.ErrInvalidArgument)
	}
	if in.Type == "" {
		in.Type = chat.MessageTypeText
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	var conv chat.Conversation
	ok, err := readRecord(ctx, s.Feed, chat.ConversationPath(in.ConversationID), &conv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", chat.ErrNotFound, in.ConversationID)
	}

	id, err := s.Feed.Append(ctx, chat.MessagesPath(in.ConversationID))
	if err != nil {
		return nil, transient(err)
	}

	now := s.Clock.Now().UTC()
	msg := chat.Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Content:        content,
		Timestamp:      now,
		Type:           in.Type,
		ClientID:       in.ClientID,
	}
	record, err := chat.Encode(msg)
	if err != nil {
		return nil, err
	}
	last, err := chat.Encode(chat.LastMessage{
		ID:         msg.ID,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Timestamp:  msg.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	err = s.Feed.Batch(ctx,
		feed.WriteOp(chat.MessagePath(in.ConversationID, id), record),
		feed.MergeOp(chat.ConversationPath(in.ConversationID), map[string]any{
			"lastMessage": last,
			"updatedAt":   now.Format(time.RFC3339Nano),
		}),
	)
	if err != nil {
		return nil, transient(err)
	}
	return &msg, nil
}

// List reads a conversation's messages once, oldest first.
func (s *MessageStream) List(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", chat.ErrInvalidArgument)
	}
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	value, err := s.Feed.ReadOnce(ctx, chat.MessagesPath(conversationID))
	if err != nil {
		return nil, transient(err)
	}
	return s.decode(conversationID, value), nil
}

// Subscribe delivers the whole ordered message list of a conversation after every change.
// Each delivery is derived from scratch, so out-of-order notifications cannot reorder it.
func (s *MessageStream) Subscribe(ctx context.Context, conversationID string, fn func([]chat.Message)) (feed.Unsubscribe, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", chat.ErrInvalidArgument)
	}
	unsub, err := s.Feed.Subscribe(ctx, chat.MessagesPath(conversationID), func(value any) {
		fn(s.decode(conversationID, value))
	})
	if err != nil {
		return nil, transient(err)
	}
	return unsub, nil
}

type EditMessageInput struct {
	ConversationID string
	MessageID      string
	EditorID       string
	Content        string
}

// Edit replaces the content of the editor's own message and marks it edited.
func (s *MessageStream) Edit(ctx context.Context, in EditMessageInput) (*chat.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message is empty", chat.ErrInvalidArgument)
	}
	now := s.Clock.Now().UTC()
	return s.update(ctx, in.ConversationID, in.MessageID, in.EditorID, func(m *chat.Message) mutation {
		if m.Deleted {
			return keep
		}
		m.Content = content
		m.Edited = true
		m.EditedAt = &now
		return store
	})
}

// SoftDelete clears a message's content and marks it deleted. The record stays so ordering and
// replies keep their anchor.
func (s *MessageStream) SoftDelete(ctx context.Context, conversationID, messageID, userID string) (*chat.Message, error) {
	now := s.Clock.Now().UTC()
	return s.update(ctx, conversationID, messageID, userID, func(m *chat.Message) mutation {
		if m.Deleted {
			return keep
		}
		m.Content = ""
		m.Deleted = true
		m.DeletedAt = &now
		return store
	})
}

func (s *MessageStream) update(ctx context.Context, conversationID, messageID, userID string, apply func(*chat.Message) mutation) (*chat.Message, error) {
	if userID == "" {
		return nil, chat.ErrUnauthenticated
	}
	if conversationID == "" || messageID == "" {
		return nil, fmt.Errorf("%w: conversation and message ids are required", chat.ErrInvalidArgument)
	}
	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	msg, err := updateRecord(ctx, s.Feed, chat.MessagePath(conversationID, messageID), func(m *chat.Message, exists bool) (mutation, error) {
		if !exists {
			return keep, fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
		}
		if m.SenderID != userID {
			return keep, fmt.Errorf("%w: only the sender can change a message", chat.ErrInvalidArgument)
		}
		return apply(m), nil
	})
	if err != nil {
		return nil, transient(err)
	}
	if msg.ID == "" {
		msg.ID = messageID
	}
	s.refreshLastMessage(ctx, conversationID, msg)
	return &msg, nil
}

// refreshLastMessage keeps the conversation preview in line with an edited or deleted message.
func (s *MessageStream) refreshLastMessage(ctx context.Context, conversationID string, msg chat.Message) {
	_, err := updateRecord(ctx, s.Feed, chat.ConversationPath(conversationID), func(c *chat.Conversation, exists bool) (mutation, error) {
		if !exists || c.LastMessage == nil || c.LastMessage.ID != msg.ID || c.LastMessage.Content == msg.Content {
			return keep, nil
		}
		c.LastMessage.Content = msg.Content
		return store, nil
	})
	if err != nil {
		s.Logger.Debug("last message preview not refreshed", "conversation_id", conversationID, "error", err)
	}
}

func (s *MessageStream) decode(conversationID string, value any) []chat.Message {
	msgs, skipped := chat.DecodeChildren(value, func(m *chat.Message, id string) {
		m.ID = id
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
	})
	if skipped > 0 {
		s.Logger.Warn("skipped malformed messages", "conversation_id", conversationID, "count", skipped)
	}
	chat.SortMessages(msgs)
	return msgs
}
