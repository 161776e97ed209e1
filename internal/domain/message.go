package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

// DeletedMessageContent - содержимое, которым заменяется текст удаленного
// сообщения. Сама запись остается на месте, чтобы не сдвигать пагинацию.
const DeletedMessageContent = "Message deleted"

type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	// ClientID - корреляционный идентификатор, сгенерированный клиентом.
	// Возвращается в message:new, чтобы клиент мог точно сопоставить
	// серверное эхо со своей оптимистичной записью.
	ClientID  string     `json:"client_id,omitempty"`
	SenderID  string     `json:"sender_id"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	File      *FileMeta  `json:"file,omitempty"`
	ReplyTo   *uuid.UUID `json:"reply_to,omitempty"`
	ReadBy    []string   `json:"read_by"`
	Reactions []Reaction `json:"reactions"`
	IsEdited  bool       `json:"is_edited"`
	IsDeleted bool       `json:"is_deleted"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type FileMeta struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Message) HasReaction(emoji, userID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// Summary - срез для поля last_message беседы
func (m *Message) Summary() *LastMessageSummary {
	return &LastMessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      m.Type,
		SentAt:    m.CreatedAt,
	}
}
