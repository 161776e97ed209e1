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

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListByConversation возвращает страницу сообщений от новых к старым.
	// Удаленные сообщения не отфильтровываются: tombstone занимает свою
	// позицию, иначе skip у клиентов начнет указывать мимо.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SetReactions(ctx context.Context, id uuid.UUID, reactions []domain.Reaction) error
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string) error
	CountUnread(ctx context.Context, conversationID uuid.UUID, userID string) (int64, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `id, conversation_id, client_id, sender_id, type, content, file, reply_to, read_by, reactions, is_edited, is_deleted, created_at, updated_at`

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	var fileJSON []byte
	if message.File != nil {
		var err error
		fileJSON, err = json.Marshal(message.File)
		if err != nil {
			return fmt.Errorf("failed to marshal file meta: %w", err)
		}
	}

	reactionsJSON, err := json.Marshal(message.Reactions)
	if err != nil {
		return fmt.Errorf("failed to marshal reactions: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, client_id, sender_id, type, content, file, reply_to, read_by, reactions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		message.ID, message.ConversationID, nullableString(message.ClientID), message.SenderID,
		message.Type, message.Content, fileJSON, message.ReplyTo,
		message.ReadBy, reactionsJSON, message.CreatedAt,
	).Scan(&message.CreatedAt)

	if err != nil {
		r.log.Error("Failed to create message", "error", err, "conversation_id", message.ConversationID)
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1
	`

	message, err := r.scanMessage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pkgerrors.ErrMessageNotFound
	}
	if err != nil {
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, skip)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message, err := r.scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	query := `
		UPDATE messages
		SET content = $2, is_edited = TRUE, updated_at = $3
		WHERE id = $1 AND is_deleted = FALSE
	`

	tag, err := r.db.Exec(ctx, query, id, content, time.Now())
	if err != nil {
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return fmt.Errorf("failed to update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	// Содержимое заменяется tombstone, запись остается на месте
	query := `
		UPDATE messages
		SET content = $2, file = NULL, is_deleted = TRUE, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, domain.DeletedMessageContent, time.Now())
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) SetReactions(ctx context.Context, id uuid.UUID, reactions []domain.Reaction) error {
	reactionsJSON, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("failed to marshal reactions: %w", err)
	}

	query := `
		UPDATE messages
		SET reactions = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, reactionsJSON, time.Now())
	if err != nil {
		r.log.Error("Failed to set reactions", "error", err, "message_id", id)
		return fmt.Errorf("failed to set reactions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrMessageNotFound
	}

	return nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string) error {
	// Идемпотентно: уже прочитанные строки не трогаются
	query := `
		UPDATE messages
		SET read_by = array_append(read_by, $2)
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND NOT ($2 = ANY(read_by))
	`

	_, err := r.db.Exec(ctx, query, conversationID, userID)
	if err != nil {
		r.log.Error("Failed to mark messages as read", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to mark messages as read: %w", err)
	}

	return nil
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationID uuid.UUID, userID string) (int64, error) {
	// Источник истины для unread - отсутствие пользователя в read_by.
	// Кэш-счетчик лишь ускоритель поверх этого запроса.
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND NOT ($2 = ANY(read_by))
		  AND is_deleted = FALSE
	`

	var count int64
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&count)
	if err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "conversation_id", conversationID)
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return count, nil
}

func (r *messageRepository) scanMessage(row pgx.Row) (*domain.Message, error) {
	message := &domain.Message{}
	var clientID *string
	var fileJSON, reactionsJSON []byte

	err := row.Scan(
		&message.ID, &message.ConversationID, &clientID, &message.SenderID,
		&message.Type, &message.Content, &fileJSON, &message.ReplyTo,
		&message.ReadBy, &reactionsJSON, &message.IsEdited, &message.IsDeleted,
		&message.CreatedAt, &message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if clientID != nil {
		message.ClientID = *clientID
	}
	if len(fileJSON) > 0 {
		file := &domain.FileMeta{}
		if err := json.Unmarshal(fileJSON, file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file meta: %w", err)
		}
		message.File = file
	}
	if len(reactionsJSON) > 0 {
		if err := json.Unmarshal(reactionsJSON, &message.Reactions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reactions: %w", err)
		}
	}

	return message, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
