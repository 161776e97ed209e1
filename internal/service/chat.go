package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/repository"
	pkgerrors "messenger/pkg/errors"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

type CreateConversationInput struct {
	Participants []string `json:"participants"`
	Type         string   `json:"type"`
	Name         *string  `json:"name,omitempty"`
	Avatar       *string  `json:"avatar,omitempty"`
	CreatedBy    string   `json:"-"`
}

type SendMessageInput struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	SenderID       string           `json:"-"`
	ClientID       string           `json:"client_id,omitempty"`
	Content        string           `json:"content"`
	Type           string           `json:"type,omitempty"`
	File           *domain.FileMeta `json:"file,omitempty"`
	ReplyTo        *uuid.UUID       `json:"reply_to,omitempty"`
}

// ChatService - единственная точка мутации бесед и сообщений.
// Транспорта не знает: вызывается и из REST-обработчиков, и из gateway.
// Политика кэша: на запись инвалидация (DEL), никогда не перезапись;
// ошибки кэша приравниваются к промаху и не валят операцию.
type ChatService interface {
	CreateConversation(ctx context.Context, input CreateConversationInput) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetUserConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	PatchConversationMeta(ctx context.Context, id uuid.UUID, userID string, patch []byte) (*domain.Conversation, error)
	AddParticipant(ctx context.Context, id uuid.UUID, userID string) (*domain.Conversation, error)
	RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) (*domain.Conversation, error)

	SendMessage(ctx context.Context, input SendMessageInput) (*domain.Message, error)
	GetMessages(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error)
	UpdateMessage(ctx context.Context, messageID uuid.UUID, userID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID, userID string) (*domain.Message, error)
	AddReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) (*domain.Message, error)
	RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) (*domain.Message, error)

	MarkMessagesAsRead(ctx context.Context, conversationID uuid.UUID, userID string) error
	GetUnreadCount(ctx context.Context, userID string, conversationID uuid.UUID) (int64, error)
	GetTotalUnreadCount(ctx context.Context, userID string) (int64, error)
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	cache            repository.CacheRepository
	metrics          *telemetry.Metrics
	log              logger.Logger
}

func NewChatService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	cache repository.CacheRepository,
	metrics *telemetry.Metrics,
	log logger.Logger,
) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		cache:            cache,
		metrics:          metrics,
		log:              log,
	}
}

func (s *chatService) CreateConversation(ctx context.Context, input CreateConversationInput) (*domain.Conversation, error) {
	participants := dedupe(input.Participants)

	switch input.Type {
	case domain.ConversationTypeDirect:
		if len(participants) != 2 {
			return nil, pkgerrors.ErrDirectParticipants
		}
	case domain.ConversationTypeGroup:
		if len(participants) < 2 {
			return nil, pkgerrors.ErrNotEnoughParticipants
		}
		if input.Name == nil || *input.Name == "" {
			return nil, pkgerrors.ErrGroupNameRequired
		}
	default:
		return nil, fmt.Errorf("%w: unknown conversation type %q", pkgerrors.ErrBadRequest, input.Type)
	}

	if input.Type == domain.ConversationTypeDirect {
		// Идемпотентное создание: сначала ищем существующую беседу пары
		directKey := domain.DirectKey(participants[0], participants[1])
		existing, err := s.conversationRepo.GetByDirectKey(ctx, directKey)
		if err == nil {
			s.cacheConversation(ctx, existing)
			return existing, nil
		}
		if !errors.Is(err, pkgerrors.ErrConversationNotFound) {
			return nil, err
		}
	}

	conversation := &domain.Conversation{
		ID:           uuid.New(),
		Type:         input.Type,
		Participants: participants,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    time.Now(),
	}
	conversation.UpdatedAt = conversation.CreatedAt
	if input.Type == domain.ConversationTypeGroup {
		conversation.Name = input.Name
		conversation.Avatar = input.Avatar
	}

	err := s.conversationRepo.Create(ctx, conversation)
	if errors.Is(err, repository.ErrDirectKeyConflict) {
		// Гонку lookup-then-create выиграл кто-то другой - перечитываем
		directKey := domain.DirectKey(participants[0], participants[1])
		existing, err := s.conversationRepo.GetByDirectKey(ctx, directKey)
		if err != nil {
			return nil, err
		}
		s.cacheConversation(ctx, existing)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.cacheConversation(ctx, conversation)
	s.invalidateUserLists(ctx, conversation.Participants)

	return conversation, nil
}

func (s *chatService) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	cached, err := s.cache.GetConversation(ctx, id)
	if err == nil && cached != nil {
		return cached, nil
	}
	s.metrics.CacheMisses.WithLabelValues("conversation").Inc()

	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheConversation(ctx, conversation)
	return conversation, nil
}

func (s *chatService) GetUserConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	cached, err := s.cache.GetUserConversations(ctx, userID)
	if err == nil && cached != nil {
		return cached, nil
	}
	s.metrics.CacheMisses.WithLabelValues("user_conversations").Inc()

	conversations, err := s.conversationRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.SetUserConversations(ctx, userID, conversations)
	return conversations, nil
}

// conversationMeta - изменяемая через merge-patch часть беседы
type conversationMeta struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

func (s *chatService) PatchConversationMeta(ctx context.Context, id uuid.UUID, userID string, patch []byte) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, pkgerrors.ErrNotParticipant
	}
	if conversation.Type != domain.ConversationTypeGroup {
		return nil, pkgerrors.ErrNotGroupConversation
	}

	current, err := json.Marshal(conversationMeta{Name: conversation.Name, Avatar: conversation.Avatar})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation meta: %w", err)
	}

	patched, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid merge patch", pkgerrors.ErrBadRequest)
	}

	meta := conversationMeta{}
	if err := json.Unmarshal(patched, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid merge patch", pkgerrors.ErrBadRequest)
	}
	if meta.Name == nil || *meta.Name == "" {
		return nil, pkgerrors.ErrGroupNameRequired
	}

	if err := s.conversationRepo.UpdateMeta(ctx, id, meta.Name, meta.Avatar); err != nil {
		return nil, err
	}

	s.invalidateConversation(ctx, conversation)

	return s.conversationRepo.GetByID(ctx, id)
}

func (s *chatService) AddParticipant(ctx context.Context, id uuid.UUID, userID string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.Type != domain.ConversationTypeGroup {
		return nil, pkgerrors.ErrNotGroupConversation
	}

	if err := s.conversationRepo.AddParticipant(ctx, id, userID); err != nil {
		return nil, err
	}

	s.invalidateConversation(ctx, conversation)
	_ = s.cache.DeleteUserConversations(ctx, userID)

	return s.conversationRepo.GetByID(ctx, id)
}

func (s *chatService) RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.Type != domain.ConversationTypeGroup {
		return nil, pkgerrors.ErrNotGroupConversation
	}

	if err := s.conversationRepo.RemoveParticipant(ctx, id, userID); err != nil {
		return nil, err
	}

	s.invalidateConversation(ctx, conversation)
	_ = s.cache.DeleteUserConversations(ctx, userID)

	return s.conversationRepo.GetByID(ctx, id)
}

func (s *chatService) SendMessage(ctx context.Context, input SendMessageInput) (*domain.Message, error) {
	conversation, err := s.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(input.SenderID) {
		return nil, pkgerrors.ErrNotParticipant
	}
	if input.Content == "" && input.File == nil {
		return nil, fmt.Errorf("%w: empty message", pkgerrors.ErrBadRequest)
	}

	messageType := input.Type
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		ClientID:       input.ClientID,
		SenderID:       input.SenderID,
		Type:           messageType,
		Content:        input.Content,
		File:           input.File,
		ReplyTo:        input.ReplyTo,
		// Отправитель прочитал свое сообщение по определению
		ReadBy:    []string{input.SenderID},
		Reactions: []domain.Reaction{},
		CreatedAt: time.Now(),
	}
	message.UpdatedAt = message.CreatedAt

	// Запись в БД - точка сериализации: порядок fan-out следует порядку
	// завершения этих вставок
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	if err := s.conversationRepo.UpdateLastMessage(ctx, conversation.ID, message.Summary()); err != nil {
		s.log.Error("Failed to update last message", "error", err, "conversation_id", conversation.ID)
	}

	s.invalidateConversation(ctx, conversation)

	for _, participant := range conversation.Participants {
		if participant != input.SenderID {
			_ = s.cache.IncrUnread(ctx, participant, conversation.ID)
		}
	}

	s.metrics.MessagesSent.Inc()

	return message, nil
}

func (s *chatService) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	return s.messageRepo.ListByConversation(ctx, conversationID, limit, skip)
}

func (s *chatService) UpdateMessage(ctx context.Context, messageID uuid.UUID, userID, content string) (*domain.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, pkgerrors.ErrNotMessageSender
	}
	if message.IsDeleted {
		return nil, pkgerrors.ErrMessageNotFound
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", pkgerrors.ErrBadRequest)
	}

	if err := s.messageRepo.UpdateContent(ctx, messageID, content); err != nil {
		return nil, err
	}

	message.Content = content
	message.IsEdited = true

	s.afterMessageMutation(ctx, message)

	return message, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID uuid.UUID, userID string) (*domain.Message, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, pkgerrors.ErrNotMessageSender
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return nil, err
	}

	message.Content = domain.DeletedMessageContent
	message.File = nil
	message.IsDeleted = true

	s.afterMessageMutation(ctx, message)

	return message, nil
}

func (s *chatService) AddReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) (*domain.Message, error) {
	message, conversation, err := s.messageWithConversation(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, pkgerrors.ErrNotParticipant
	}

	// Повторная реакция тем же emoji - no-op (toggle живет на клиенте)
	if message.HasReaction(emoji, userID) {
		return message, nil
	}

	message.Reactions = append(message.Reactions, domain.Reaction{Emoji: emoji, UserID: userID})
	if err := s.messageRepo.SetReactions(ctx, messageID, message.Reactions); err != nil {
		return nil, err
	}

	s.invalidateConversation(ctx, conversation)

	return message, nil
}

func (s *chatService) RemoveReaction(ctx context.Context, messageID uuid.UUID, emoji, userID string) (*domain.Message, error) {
	message, conversation, err := s.messageWithConversation(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, pkgerrors.ErrNotParticipant
	}

	filtered := message.Reactions[:0:0]
	for _, r := range message.Reactions {
		if !(r.Emoji == emoji && r.UserID == userID) {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == len(message.Reactions) {
		return message, nil
	}

	message.Reactions = filtered
	if err := s.messageRepo.SetReactions(ctx, messageID, message.Reactions); err != nil {
		return nil, err
	}

	s.invalidateConversation(ctx, conversation)

	return message, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, conversationID uuid.UUID, userID string) error {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(userID) {
		return pkgerrors.ErrNotParticipant
	}

	if err := s.messageRepo.MarkRead(ctx, conversationID, userID); err != nil {
		return err
	}

	_ = s.cache.SetUnread(ctx, userID, conversationID, 0)

	return nil
}

func (s *chatService) GetUnreadCount(ctx context.Context, userID string, conversationID uuid.UUID) (int64, error) {
	count, found, err := s.cache.GetUnread(ctx, userID, conversationID)
	if err == nil && found {
		return count, nil
	}
	s.metrics.CacheMisses.WithLabelValues("unread").Inc()

	// Промах или ошибка кэша - пересчет из БД по отсутствию в read_by
	count, err = s.messageRepo.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	_ = s.cache.SetUnread(ctx, userID, conversationID, count)

	return count, nil
}

func (s *chatService) GetTotalUnreadCount(ctx context.Context, userID string) (int64, error) {
	conversations, err := s.GetUserConversations(ctx, userID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, conversation := range conversations {
		count, err := s.GetUnreadCount(ctx, userID, conversation.ID)
		if err != nil {
			return 0, err
		}
		total += count
	}

	return total, nil
}

func (s *chatService) messageWithConversation(ctx context.Context, messageID uuid.UUID) (*domain.Message, *domain.Conversation, error) {
	message, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}

	conversation, err := s.GetConversation(ctx, message.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	return message, conversation, nil
}

// afterMessageMutation приводит превью last_message и кэш беседы в
// соответствие после edit/delete
func (s *chatService) afterMessageMutation(ctx context.Context, message *domain.Message) {
	conversation, err := s.conversationRepo.GetByID(ctx, message.ConversationID)
	if err != nil {
		s.log.Error("Failed to load conversation after message mutation", "error", err, "conversation_id", message.ConversationID)
		return
	}

	// Если мутировало последнее сообщение - обновляем durable-превью
	if conversation.LastMessage != nil && conversation.LastMessage.MessageID == message.ID {
		if err := s.conversationRepo.UpdateLastMessage(ctx, message.ConversationID, message.Summary()); err != nil {
			s.log.Error("Failed to refresh last message preview", "error", err, "conversation_id", message.ConversationID)
		}
	}

	s.invalidateConversation(ctx, conversation)
}

func (s *chatService) cacheConversation(ctx context.Context, conversation *domain.Conversation) {
	_ = s.cache.SetConversation(ctx, conversation)
}

func (s *chatService) invalidateConversation(ctx context.Context, conversation *domain.Conversation) {
	_ = s.cache.DeleteConversation(ctx, conversation.ID)
	s.invalidateUserLists(ctx, conversation.Participants)
}

func (s *chatService) invalidateUserLists(ctx context.Context, participants []string) {
	for _, participant := range participants {
		_ = s.cache.DeleteUserConversations(ctx, participant)
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
