package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"messenger/internal/gateway"
	"messenger/internal/service"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

type WebSocketHandler struct {
	hub      *gateway.Hub
	chat     service.ChatService
	auth     service.AuthService
	presence service.PresenceService
	metrics  *telemetry.Metrics
	log      logger.Logger
}

func NewWebSocketHandler(
	hub *gateway.Hub,
	chat service.ChatService,
	auth service.AuthService,
	presence service.PresenceService,
	metrics *telemetry.Metrics,
	log logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		chat:     chat,
		auth:     auth,
		presence: presence,
		metrics:  metrics,
		log:      log,
	}
}

// Handle апгрейдит соединение и запускает pump'ы. Аутентификация -
// первым событием auth внутри соединения, не на апгрейде: браузерный
// WebSocket не умеет ставить Authorization-заголовок.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := gateway.NewClient(h.hub, conn, h.chat, h.auth, h.presence, h.metrics, h.log)

	h.metrics.WSConnections.Inc()
	go func() {
		defer h.metrics.WSConnections.Dec()
		client.ReadPump()
	}()
	go client.WritePump()
}
