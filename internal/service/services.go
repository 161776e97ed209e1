package service

import (
	"messenger/internal/config"
	"messenger/internal/repository"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

type Services struct {
	Auth      AuthService
	Chat      ChatService
	Presence  PresenceService
	RateLimit RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, metrics *telemetry.Metrics, log logger.Logger) *Services {
	return &Services{
		Auth:      NewAuthService(cfg.JWT, log),
		Chat:      NewChatService(repos.Conversations, repos.Messages, repos.Cache, metrics, log),
		Presence:  NewPresenceService(repos.Cache, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
	}
}
