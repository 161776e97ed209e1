// Package chatclient - локальное зеркало переписки на стороне клиента.
// Сводит три источника сообщений: REST-историю, realtime-события и
// собственные оптимистичные отправки, не допуская дублей.
package chatclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"messenger/internal/domain"
)

// Sender - транспорт до сервера. Реализуется поверх REST или сокета,
// store от способа доставки не зависит.
type Sender interface {
	SendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	FetchMessages(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error)
	AddReaction(ctx context.Context, messageID uuid.UUID, emoji string) error
	RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji string) error
}

// Store хранит сообщения по беседам в порядке отображения (старые первыми).
type Store struct {
	mu     sync.Mutex
	sender Sender
	userID string

	messages map[uuid.UUID][]*domain.Message
	// Корреляционные ID отправок, которые еще не подтверждены сервером
	pending map[string]bool
}

func NewStore(sender Sender, userID string) *Store {
	return &Store{
		sender:   sender,
		userID:   userID,
		messages: make(map[uuid.UUID][]*domain.Message),
		pending:  make(map[string]bool),
	}
}

// Messages возвращает копию локального списка беседы.
func (s *Store) Messages(conversationID uuid.UUID) []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	out := make([]*domain.Message, len(list))
	copy(out, list)
	return out
}

// SendMessage - оптимистичная отправка: запись появляется локально сразу,
// под временным ID. Успех заменяет ее на месте серверной версией, ошибка
// убирает запись и возвращается вызывающему.
func (s *Store) SendMessage(ctx context.Context, conversationID uuid.UUID, content, msgType string, file *domain.FileMeta) (*domain.Message, error) {
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	clientID := uuid.NewString()
	optimistic := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		ClientID:       clientID,
		SenderID:       s.userID,
		Type:           msgType,
		Content:        content,
		File:           file,
		ReadBy:         []string{s.userID},
	}

	s.mu.Lock()
	s.messages[conversationID] = append(s.messages[conversationID], optimistic)
	s.pending[clientID] = true
	s.mu.Unlock()

	confirmed, err := s.sender.SendMessage(ctx, optimistic)
	if err != nil {
		s.removeByClientID(conversationID, clientID)
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.confirmPending(conversationID, clientID, confirmed)
	return confirmed, nil
}

// ReceiveMessage вливает realtime-событие message:new. Дубликаты по
// серверному ID игнорируются; эхо собственной отправки узнается по
// корреляционному client_id и заменяет оптимистичную запись на месте.
func (s *Store) ReceiveMessage(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ConversationID]
	for _, existing := range list {
		if existing.ID == msg.ID {
			return
		}
	}

	if msg.ClientID != "" && s.pending[msg.ClientID] {
		for i, existing := range list {
			if existing.ClientID == msg.ClientID {
				list[i] = msg
				delete(s.pending, msg.ClientID)
				return
			}
		}
	}

	s.messages[msg.ConversationID] = append(list, msg)
}

// LoadHistory подтягивает страницу истории и сливает ее с локальным
// состоянием: по совпадающим ID серверная версия главнее, локальные
// сообщения вне страницы (пришедшие после ее формирования) сохраняются.
func (s *Store) LoadHistory(ctx context.Context, conversationID uuid.UUID, limit, skip int) error {
	fetched, err := s.sender.FetchMessages(ctx, conversationID, limit, skip)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	// Сервер отдает новые первыми, локально держим старые первыми
	page := make([]*domain.Message, len(fetched))
	for i, msg := range fetched {
		page[len(fetched)-1-i] = msg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inPage := make(map[uuid.UUID]bool, len(page))
	byClientID := make(map[string]bool, len(page))
	for _, msg := range page {
		inPage[msg.ID] = true
		if msg.ClientID != "" {
			byClientID[msg.ClientID] = true
		}
	}

	merged := page
	for _, existing := range s.messages[conversationID] {
		if inPage[existing.ID] {
			continue
		}
		// Оптимистичная запись, подтверждение которой попало в страницу
		if existing.ClientID != "" && byClientID[existing.ClientID] {
			delete(s.pending, existing.ClientID)
			continue
		}
		merged = append(merged, existing)
	}

	s.messages[conversationID] = merged
	return nil
}

// ApplyUpdate вливает message:updated / message:deleted: находит запись
// по ID и заменяет целиком.
func (s *Store) ApplyUpdate(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ConversationID]
	for i, existing := range list {
		if existing.ID == msg.ID {
			list[i] = msg
			return
		}
	}
}

// ToggleReaction ставит или снимает реакцию локально и подтверждает ее
// на сервере. При ошибке восстанавливается снимок прежнего списка
// реакций, а не только отменяется добавленное.
func (s *Store) ToggleReaction(ctx context.Context, conversationID, messageID uuid.UUID, emoji string) error {
	s.mu.Lock()
	msg := s.findLocked(conversationID, messageID)
	if msg == nil {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found locally", messageID)
	}

	snapshot := make([]domain.Reaction, len(msg.Reactions))
	copy(snapshot, msg.Reactions)

	adding := !msg.HasReaction(emoji, s.userID)
	if adding {
		msg.Reactions = append(msg.Reactions, domain.Reaction{Emoji: emoji, UserID: s.userID})
	} else {
		kept := msg.Reactions[:0]
		for _, r := range msg.Reactions {
			if r.Emoji != emoji || r.UserID != s.userID {
				kept = append(kept, r)
			}
		}
		msg.Reactions = kept
	}
	s.mu.Unlock()

	var err error
	if adding {
		err = s.sender.AddReaction(ctx, messageID, emoji)
	} else {
		err = s.sender.RemoveReaction(ctx, messageID, emoji)
	}
	if err != nil {
		s.mu.Lock()
		if msg := s.findLocked(conversationID, messageID); msg != nil {
			msg.Reactions = snapshot
		}
		s.mu.Unlock()
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

func (s *Store) findLocked(conversationID, messageID uuid.UUID) *domain.Message {
	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			return msg
		}
	}
	return nil
}

func (s *Store) removeByClientID(conversationID uuid.UUID, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, clientID)
	list := s.messages[conversationID]
	for i, msg := range list {
		if msg.ClientID == clientID {
			s.messages[conversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Store) confirmPending(conversationID uuid.UUID, clientID string, confirmed *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending[clientID] {
		// Realtime-эхо успело раньше REST-ответа
		return
	}
	delete(s.pending, clientID)

	list := s.messages[conversationID]
	for i, msg := range list {
		if msg.ClientID == clientID {
			list[i] = confirmed
			return
		}
	}
}
