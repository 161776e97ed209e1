package handler

import (
	"messenger/internal/config"
	"messenger/internal/gateway"
	"messenger/internal/service"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *gateway.Hub, cfg *config.Config, metrics *telemetry.Metrics, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg),
		Conversation: NewConversationHandler(services.Chat, hub, log),
		Message:      NewMessageHandler(services.Chat, hub, log),
		WebSocket:    NewWebSocketHandler(hub, services.Chat, services.Auth, services.Presence, metrics, log),
	}
}
