package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	feed "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/feed/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/schedule"
	chat "github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/domain"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/usecase"
)

// CreateChatController handles the chat creation endpoint
// One controller per endpoint
type CreateChatController struct {
	Registry *usecase.ConversationRegistry
}

func NewCreateChatController(f feed.Feed, clock schedule.Clock, logger *slog.Logger) *CreateChatController {
	return &CreateChatController{Registry: usecase.NewConversationRegistry(f, clock, logger)}
}

type createChatRequest struct {
	CreatorID      string            `json:"creator_id" binding:"required"`
	Name           string            `json:"name"`
	Kind           string            `json:"kind"`
	ParticipantIDs []string          `json:"participant_ids"`
	ProjectID      string            `json:"project_id"`
	Metadata       map[string]string `json:"metadata"`
}

// Handle creates a team or project conversation, or returns the direct chat between the creator
// and the single other participant.
func (h *CreateChatController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		existing, err := h.Registry.List(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		conv, err := h.Registry.CreateConversation(ctx, usecase.CreateConversationInput{
			CreatorID:    req.CreatorID,
			Name:         req.Name,
			Kind:         chat.ConversationKind(req.Kind),
			Participants: req.ParticipantIDs,
			ProjectID:    req.ProjectID,
			Metadata:     req.Metadata,
			Existing:     usecase.FilterVisible(existing, req.CreatorID),
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}
