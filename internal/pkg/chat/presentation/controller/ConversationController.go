package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// ConversationController serves conversation listing and membership endpoints.
type ConversationController struct {
	Registry *usecase.ConversationRegistry
}

func NewConversationController(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *ConversationController {
	return &ConversationController{Registry: usecase.NewConversationRegistry(f, clock, logger)}
}

// List returns the conversations visible to ?user_id, most recently active first.
func (h *ConversationController) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		all, err := h.Registry.List(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		visible := usecase.FilterVisible(all, userID)
		c.JSON(http.StatusOK, gin.H{"conversations": visible, "count": len(visible)})
	}
}

type memberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *ConversationController) AddMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		conv, err := h.Registry.AddMember(ctx, c.Param("chatId"), req.UserID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

func (h *ConversationController) RemoveMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		conv, err := h.Registry.RemoveMember(ctx, c.Param("chatId"), c.Param("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

type archiveRequest struct {
	Archived bool `json:"archived"`
}

func (h *ConversationController) SetArchived() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req archiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		conv, err := h.Registry.SetArchived(ctx, c.Param("chatId"), req.Archived)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}
