package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/pkg/logger"
)

const (
	// Префиксы ключей Redis
	ConversationKeyPrefix      = "conversation:%s"
	UserConversationsKeyPrefix = "user:%s:conversations"
	UnreadKeyPrefix            = "unread:%s:%s"
	OnlineKeyPrefix            = "online:%s"
)

// CacheRepository - кэш поверх основного хранилища. Все записи
// консультативные: промах означает чтение из БД, ошибка кэша для
// вызывающего равнозначна промаху.
type CacheRepository interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	SetConversation(ctx context.Context, conversation *domain.Conversation) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error

	GetUserConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	SetUserConversations(ctx context.Context, userID string, conversations []*domain.Conversation) error
	DeleteUserConversations(ctx context.Context, userID string) error

	// GetUnread возвращает (значение, найдено, ошибка)
	GetUnread(ctx context.Context, userID string, conversationID uuid.UUID) (int64, bool, error)
	SetUnread(ctx context.Context, userID string, conversationID uuid.UUID, count int64) error
	// IncrUnread инкрементирует счетчик только если он уже существует:
	// после вытеснения ключа слепой INCR начал бы счет с нуля и наврал
	IncrUnread(ctx context.Context, userID string, conversationID uuid.UUID) error

	// Presence: счетчик живых соединений пользователя.
	// IncrOnline/DecrOnline возвращают новое значение; DecrOnline никогда
	// не уводит счетчик ниже нуля.
	IncrOnline(ctx context.Context, userID string) (int64, error)
	DecrOnline(ctx context.Context, userID string) (int64, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type cacheRepository struct {
	rdb *redis.Client
	cfg config.CacheConfig
	log logger.Logger
}

func NewCacheRepository(rdb *redis.Client, cfg config.CacheConfig, log logger.Logger) CacheRepository {
	return &cacheRepository{rdb: rdb, cfg: cfg, log: log}
}

func conversationKey(id uuid.UUID) string {
	return fmt.Sprintf(ConversationKeyPrefix, id.String())
}

func userConversationsKey(userID string) string {
	return fmt.Sprintf(UserConversationsKeyPrefix, userID)
}

func unreadKey(userID string, conversationID uuid.UUID) string {
	return fmt.Sprintf(UnreadKeyPrefix, userID, conversationID.String())
}

func onlineKey(userID string) string {
	return fmt.Sprintf(OnlineKeyPrefix, userID)
}

func (r *cacheRepository) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	data, err := r.rdb.Get(ctx, conversationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		r.log.Warn("Failed to read conversation from cache", "error", err, "conversation_id", id)
		return nil, err
	}

	conversation := &domain.Conversation{}
	if err := json.Unmarshal(data, conversation); err != nil {
		r.log.Warn("Failed to unmarshal cached conversation", "error", err)
		return nil, err
	}

	return conversation, nil
}

func (r *cacheRepository) SetConversation(ctx context.Context, conversation *domain.Conversation) error {
	data, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	err = r.rdb.Set(ctx, conversationKey(conversation.ID), data, r.cfg.ConversationTTL).Err()
	if err != nil {
		r.log.Warn("Failed to cache conversation", "error", err, "conversation_id", conversation.ID)
		return err
	}

	return nil
}

func (r *cacheRepository) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	err := r.rdb.Del(ctx, conversationKey(id)).Err()
	if err != nil {
		r.log.Warn("Failed to invalidate conversation cache", "error", err, "conversation_id", id)
		return err
	}
	return nil
}

func (r *cacheRepository) GetUserConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	data, err := r.rdb.Get(ctx, userConversationsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		r.log.Warn("Failed to read conversation list from cache", "error", err, "user_id", userID)
		return nil, err
	}

	var conversations []*domain.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		r.log.Warn("Failed to unmarshal cached conversation list", "error", err)
		return nil, err
	}

	return conversations, nil
}

func (r *cacheRepository) SetUserConversations(ctx context.Context, userID string, conversations []*domain.Conversation) error {
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation list: %w", err)
	}

	err = r.rdb.Set(ctx, userConversationsKey(userID), data, r.cfg.UserListTTL).Err()
	if err != nil {
		r.log.Warn("Failed to cache conversation list", "error", err, "user_id", userID)
		return err
	}

	return nil
}

func (r *cacheRepository) DeleteUserConversations(ctx context.Context, userID string) error {
	err := r.rdb.Del(ctx, userConversationsKey(userID)).Err()
	if err != nil {
		r.log.Warn("Failed to invalidate conversation list cache", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *cacheRepository) GetUnread(ctx context.Context, userID string, conversationID uuid.UUID) (int64, bool, error) {
	count, err := r.rdb.Get(ctx, unreadKey(userID, conversationID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		r.log.Warn("Failed to read unread counter", "error", err, "user_id", userID)
		return 0, false, err
	}

	return count, true, nil
}

func (r *cacheRepository) SetUnread(ctx context.Context, userID string, conversationID uuid.UUID, count int64) error {
	err := r.rdb.Set(ctx, unreadKey(userID, conversationID), count, r.cfg.UnreadTTL).Err()
	if err != nil {
		r.log.Warn("Failed to set unread counter", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *cacheRepository) IncrUnread(ctx context.Context, userID string, conversationID uuid.UUID) error {
	key := unreadKey(userID, conversationID)

	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		r.log.Warn("Failed to check unread counter", "error", err, "user_id", userID)
		return err
	}
	if exists == 0 {
		// Счетчика нет - следующий GetUnread пересчитает из БД
		return nil
	}

	if err := r.rdb.Incr(ctx, key).Err(); err != nil {
		r.log.Warn("Failed to increment unread counter", "error", err, "user_id", userID)
		return err
	}
	r.rdb.Expire(ctx, key, r.cfg.UnreadTTL)

	return nil
}

func (r *cacheRepository) IncrOnline(ctx context.Context, userID string) (int64, error) {
	key := onlineKey(userID)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		r.log.Warn("Failed to increment presence counter", "error", err, "user_id", userID)
		return 0, err
	}

	// TTL страхует от утечки счетчика при падении gateway без disconnect
	r.rdb.Expire(ctx, key, r.cfg.PresenceTTL)

	return count, nil
}

// Декремент и зачистка ключа атомарны: раздельные DECR и DEL дали бы
// окно, в котором INCR реконнекта стирается чужим DEL и живой
// пользователь выглядит офлайн
var decrOnlineScript = redis.NewScript(`
local count = redis.call('DECR', KEYS[1])
if count <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return count
`)

func (r *cacheRepository) DecrOnline(ctx context.Context, userID string) (int64, error) {
	ttl := int(r.cfg.PresenceTTL.Seconds())

	count, err := decrOnlineScript.Run(ctx, r.rdb, []string{onlineKey(userID)}, ttl).Int64()
	if err != nil {
		r.log.Warn("Failed to decrement presence counter", "error", err, "user_id", userID)
		return 0, err
	}

	return count, nil
}

func (r *cacheRepository) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := r.rdb.Get(ctx, onlineKey(userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		r.log.Warn("Failed to read presence counter", "error", err, "user_id", userID)
		return false, err
	}

	return count > 0, nil
}
