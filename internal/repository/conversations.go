package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"messenger/internal/domain"
	pkgerrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// ErrDirectKeyConflict возвращается, когда вставка direct-беседы
// проиграла гонку уникальному индексу по паре участников.
// Вызывающий должен перечитать беседу по ключу пары.
var ErrDirectKeyConflict = errors.New("direct conversation already exists")

type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetByDirectKey(ctx context.Context, directKey string) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Conversation, error)
	UpdateLastMessage(ctx context.Context, id uuid.UUID, summary *domain.LastMessageSummary) error
	UpdateMeta(ctx context.Context, id uuid.UUID, name, avatar *string) error
	AddParticipant(ctx context.Context, id uuid.UUID, userID string) error
	RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) error
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

const conversationColumns = `id, type, name, avatar, participants, created_by, last_message, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	// direct_key заполняется только для direct-бесед; у групп NULL,
	// а NULL'ы в уникальном индексе между собой не конфликтуют
	var directKey *string
	if conversation.Type == domain.ConversationTypeDirect && len(conversation.Participants) == 2 {
		key := domain.DirectKey(conversation.Participants[0], conversation.Participants[1])
		directKey = &key
	}

	query := `
		INSERT INTO conversations (id, type, name, avatar, participants, direct_key, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		conversation.ID, conversation.Type, conversation.Name, conversation.Avatar,
		conversation.Participants, directKey, conversation.CreatedBy, conversation.CreatedAt,
	).Scan(&conversation.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Вставка ничего не вернула - пара уже существует
		return ErrDirectKeyConflict
	}
	if err != nil {
		r.log.Error("Failed to create conversation", "error", err)
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
	`

	conversation, err := r.scanConversation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.ErrConversationNotFound
	}
	if err != nil {
		r.log.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conversation, nil
}

func (r *conversationRepository) GetByDirectKey(ctx context.Context, directKey string) (*domain.Conversation, error) {
	// При гонке создания возможны дубликаты из старых данных без индекса -
	// всегда берем самую раннюю
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE direct_key = $1
		ORDER BY created_at ASC
		LIMIT 1
	`

	conversation, err := r.scanConversation(r.db.QueryRow(ctx, query, directKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.ErrConversationNotFound
	}
	if err != nil {
		r.log.Error("Failed to get conversation by direct key", "error", err)
		return nil, fmt.Errorf("failed to get conversation by direct key: %w", err)
	}

	return conversation, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.Error("Failed to list conversations", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation, err := r.scanConversation(rows)
		if err != nil {
			r.log.Error("Failed to scan conversation", "error", err)
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}

	return conversations, rows.Err()
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, id uuid.UUID, summary *domain.LastMessageSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal last message: %w", err)
	}

	query := `
		UPDATE conversations
		SET last_message = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, summaryJSON, time.Now())
	if err != nil {
		r.log.Error("Failed to update last message", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to update last message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrConversationNotFound
	}

	return nil
}

func (r *conversationRepository) UpdateMeta(ctx context.Context, id uuid.UUID, name, avatar *string) error {
	query := `
		UPDATE conversations
		SET name = $2, avatar = $3, updated_at = $4
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, name, avatar, time.Now())
	if err != nil {
		r.log.Error("Failed to update conversation meta", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrConversationNotFound
	}

	return nil
}

func (r *conversationRepository) AddParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	query := `
		UPDATE conversations
		SET participants = array_append(participants, $2), updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY(participants))
	`

	_, err := r.db.Exec(ctx, query, id, userID, time.Now())
	if err != nil {
		r.log.Error("Failed to add participant", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

func (r *conversationRepository) RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	query := `
		UPDATE conversations
		SET participants = array_remove(participants, $2), updated_at = $3
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, userID, time.Now())
	if err != nil {
		r.log.Error("Failed to remove participant", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

func (r *conversationRepository) scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conversation := &domain.Conversation{}
	var lastMessageJSON []byte

	err := row.Scan(
		&conversation.ID, &conversation.Type, &conversation.Name, &conversation.Avatar,
		&conversation.Participants, &conversation.CreatedBy, &lastMessageJSON,
		&conversation.CreatedAt, &conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(lastMessageJSON) > 0 {
		summary := &domain.LastMessageSummary{}
		if err := json.Unmarshal(lastMessageJSON, summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last message: %w", err)
		}
		conversation.LastMessage = summary
	}

	return conversation, nil
}
