package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	qport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// SendMessageTaskType is the queue task name for sending a message within the chat domain.
const SendMessageTaskType = "chat:send_message"

// SendMessageTaskPayload is the JSON payload transported via the queue.
// Kept decoupled from domain types to avoid tight coupling with JSON tags.
type SendMessageTaskPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName,omitempty"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId,omitempty"`
}

// NewSendMessageTask builds the queue task for p.
func NewSendMessageTask(p SendMessageTaskPayload) (qport.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: SendMessageTaskType, Payload: b}, nil
}

// SendMessageHandler appends the queued message through MessageStream.
func SendMessageHandler(f feed.Feed, clock schedule.Clock, logger *slog.Logger) qport.Handler {
	stream := usecase.NewMessageStream(f, clock, logger)
	return func(ctx context.Context, t qport.Task) error {
		var p SendMessageTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: do not retry indefinitely
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}

		// give the store a reasonable time budget per task execution
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		msg, err := stream.Append(ctx, usecase.AppendMessageInput{
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			SenderName:     p.SenderName,
			Content:        p.Content,
			ClientID:       p.ClientID,
		})
		if err != nil {
			return retryable(err)
		}
		logger.Debug("queued message stored", "conversation_id", msg.ConversationID, "message_id", msg.ID)
		return nil
	}
}

// RegisterSendMessageTask binds the task handler to the provided server.
func RegisterSendMessageTask(srv qport.Server, f feed.Feed, clock schedule.Clock, logger *slog.Logger) {
	srv.Register(SendMessageTaskType, SendMessageHandler(f, clock, logger))
}

// retryable lets transient store failures retry and turns everything else into a skip.
func retryable(err error) error {
	if chat.IsStructural(err) {
		return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
	}
	return err
}
