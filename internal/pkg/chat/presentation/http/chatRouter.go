package http

import (
	"github.com/gin-gonic/gin"

	qport "github.com/kamlesh9876/Devium-sub000/internal/infrastructure/queue/port"
	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/realtime"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/service"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/presentation/controller"
)

// Deps is what the chat endpoints need. Queue may be nil, in which case sends are stored inline.
type Deps struct {
	Service    service.Deps
	Queue      qport.Client
	Router     *realtime.Router
	SendBuffer int
}

// RegisterRoutes registers chat-related HTTP endpoints under the given router group
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, d Deps) {
	f, clock, logger := d.Service.Feed, d.Service.Clock, d.Service.Logger

	createCtl := controller.NewCreateChatController(f, clock, logger)
	convCtl := controller.NewConversationController(f, clock, logger)
	sendMsgCtl := controller.NewSendMessageController(f, clock, logger, d.Queue)
	getMsgCtl := controller.NewGetMessageController(f, clock, logger)
	socketCtl := controller.NewChatSocketController(d.Service, d.Router, d.SendBuffer)

	// GET /api/v1/chat?user_id= -> conversations visible to a user
	g.GET("/chat", convCtl.List())

	// POST /api/v1/chat -> create a chat
	g.POST("/chat", createCtl.Handle())

	// GET /api/v1/chat/ws -> websocket endpoint for realtime chat
	g.GET("/chat/ws", socketCtl.Handle())

	// POST /api/v1/chat/:chatId -> send a message into a chat
	g.POST("/chat/:chatId", sendMsgCtl.Handle())

	// GET /api/v1/chat/:chatId/messages -> fetch messages by chat id
	g.GET("/chat/:chatId/messages", getMsgCtl.Handle())

	g.POST("/chat/:chatId/members", convCtl.AddMember())
	g.DELETE("/chat/:chatId/members/:userId", convCtl.RemoveMember())
	g.PUT("/chat/:chatId/archived", convCtl.SetArchived())
}
