package controller

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// GetMessageController handles fetching messages by chat ID (one controller per endpoint)
type GetMessageController struct {
	Stream *usecase.MessageStream
}

func NewGetMessageController(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *GetMessageController {
	return &GetMessageController{Stream: usecase.NewMessageStream(f, clock, logger)}
}

// Handle returns a page of a conversation's messages, oldest first. offset counts from the start.
func (h *GetMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		if chatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
			return
		}

		// Defaults
		limit := 50
		offset := 0

		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		msgs, err := h.Stream.List(ctx, chatID)
		if err != nil {
			respondError(c, err)
			return
		}
		total := len(msgs)
		page := paginate(msgs, offset, limit)

		c.JSON(http.StatusOK, gin.H{
			"messages": page,
			"limit":    limit,
			"offset":   offset,
			"count":    len(page),
			"total":    total,
		})
	}
}

func paginate(msgs []chat.Message, offset, limit int) []chat.Message {
	if offset >= len(msgs) {
		return []chat.Message{}
	}
	end := min(offset+limit, len(msgs))
	return msgs[offset:end]
}
