package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"messenger/internal/config"
	"messenger/pkg/logger"
)

type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Cache         CacheRepository
	RateLimit     RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, cfg *config.Config, log logger.Logger) *Repositories {
	return &Repositories{
		Conversations: NewConversationRepository(db, log),
		Messages:      NewMessageRepository(db, log),
		Cache:         NewCacheRepository(redis, cfg.Cache, log),
		RateLimit:     NewRateLimitRepository(redis, log),
	}
}
