package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kamlesh9876/Devium-sub000/internal/infrastructure/realtime"
	"github.com/kamlesh9876/Devium-sub000/internal/pkg/chat/application/service"
)

// ChatSocketController handles the websocket endpoint for realtime chat traffic. Every socket
// gets its own ChatController.
type ChatSocketController struct {
	router          *realtime.Router
	deps            service.Deps
	logger          *slog.Logger
	sendBuffer      int
	inflightTimeout time.Duration
}

func NewChatSocketController(deps service.Deps, router *realtime.Router, sendBuffer int) *ChatSocketController {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSocketController{
		router:          router,
		deps:            deps,
		logger:          logger,
		sendBuffer:      sendBuffer,
		inflightTimeout: 5 * time.Second,
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now; plug a proper checker when auth is added.
		return true
	},
}

const defaultReadTimeout = 60 * time.Second

// Handle upgrades HTTP connections to websocket and processes frames until the client disconnects.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just log and return.
			ctl.logger.Debug("websocket upgrade failed", "error", err)
			return
		}

		conn := realtime.NewConnection(userID, ws, ctl.sendBuffer)
		ctl.router.Attach(conn)
		defer func() {
			ctl.router.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		ctx := c.Request.Context()
		sess := newSocketSession(ctl.deps, userID, conn, ctl.inflightTimeout)
		if err := sess.open(ctx); err != nil {
			sess.replyError(errorCode(err), err.Error())
			sess.close()
			return
		}
		defer func() {
			if conn.CloseCode() == realtime.CloseSessionReplaced {
				sess.closeReplaced()
				return
			}
			sess.close()
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
					errors.Is(err, websocket.ErrCloseSent) {
					return
				}
				ctl.logger.Debug("websocket read ended", "user_id", userID, "error", err)
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				sess.replyError("bad_request", "invalid payload")
				continue
			}
			if err := sess.handle(ctx, frame); err != nil {
				sess.replyError(errorCode(err), err.Error())
			}
		}
	}
}
