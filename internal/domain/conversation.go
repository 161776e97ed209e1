package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

type Conversation struct {
	ID           uuid.UUID           `json:"id"`
	Type         string              `json:"type"`
	Name         *string             `json:"name,omitempty"`
	Avatar       *string             `json:"avatar,omitempty"`
	Participants []string            `json:"participants"`
	LastMessage  *LastMessageSummary `json:"last_message,omitempty"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// LastMessageSummary - срез последнего сообщения для списка бесед
type LastMessageSummary struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	SentAt    time.Time `json:"sent_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// DirectKey - канонический ключ пары участников direct-беседы.
// Порядок участников не важен, поэтому пара сортируется.
// По этому ключу в БД висит уникальный индекс, закрывающий гонку
// lookup-then-create при одновременном создании.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}
