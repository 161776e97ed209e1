package service

import (
	"context"

	"messenger/internal/repository"
	"messenger/pkg/logger"
)

// PresenceService считает живые соединения пользователя. Счетчик живет
// в разделяемом кэше, а не в памяти процесса, чтобы несколько
// инстансов gateway сходились в одном ответе на вопрос "онлайн ли".
type PresenceService interface {
	// Connect регистрирует соединение; true - если это первое
	// соединение пользователя (переход offline -> online)
	Connect(ctx context.Context, userID string) (bool, error)
	// Disconnect снимает соединение; true - если оно было последним
	// (переход online -> offline). Счетчик не уходит ниже нуля,
	// поэтому повторный disconnect безопасен.
	Disconnect(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type presenceService struct {
	cache repository.CacheRepository
	log   logger.Logger
}

func NewPresenceService(cache repository.CacheRepository, log logger.Logger) PresenceService {
	return &presenceService{cache: cache, log: log}
}

func (s *presenceService) Connect(ctx context.Context, userID string) (bool, error) {
	count, err := s.cache.IncrOnline(ctx, userID)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (s *presenceService) Disconnect(ctx context.Context, userID string) (bool, error) {
	count, err := s.cache.DecrOnline(ctx, userID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *presenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.cache.IsOnline(ctx, userID)
}
