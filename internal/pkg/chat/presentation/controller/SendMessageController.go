package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	queueport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/task"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// SendMessageController handles the send-message endpoint only (one controller per endpoint).
// With a queue client the message is enqueued; without one it is stored inline.
type SendMessageController struct {
	Q      queueport.Client
	Stream *usecase.MessageStream
}

func NewSendMessageController(f feed.Feed, clock schedule.Clock, logger *slog.Logger, client queueport.Client) *SendMessageController {
	return &SendMessageController{Q: client, Stream: usecase.NewMessageStream(f, clock, logger)}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	SenderID   string `json:"sender_id" binding:"required"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content" binding:"required"`
	ClientID   string `json:"client_id"`
}

func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		if chatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if h.Q == nil {
			msg, err := h.Stream.Append(ctx, usecase.AppendMessageInput{
				ConversationID: chatID,
				SenderID:       req.SenderID,
				SenderName:     req.SenderName,
				Content:        req.Content,
				ClientID:       req.ClientID,
			})
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, msg)
			return
		}

		t, err := task.NewSendMessageTask(task.SendMessageTaskPayload{
			ConversationID: chatID,
			SenderID:       req.SenderID,
			SenderName:     req.SenderName,
			Content:        req.Content,
			ClientID:       req.ClientID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode task payload"})
			return
		}

		// Enqueue task; best-effort options
		opts := queueport.EnqueueOption{Queue: "chat", MaxRetry: 20}
		id, err := h.Q.Enqueue(ctx, t, opts)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue message"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"status":    "queued",
			"task_id":   id,
			"chat_id":   chatID,
			"sender_id": req.SenderID,
			"client_id": req.ClientID,
		})
	}
}
