package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// События клиент -> сервер. Набор закрытый: неизвестное имя события
// отклоняется при разборе, а не игнорируется молча.
const (
	EventAuth              = "auth"
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventMessageSendFile   = "message:send:file"
	EventMessageUpdate     = "message:update"
	EventMessageDelete     = "message:delete"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventReactionAdd       = "reaction:add"
	EventReactionRemove    = "reaction:remove"
	EventMessagesRead      = "messages:read"
)

// События сервер -> клиент
const (
	EventMessageNew      = "message:new"
	EventMessageUpdated  = "message:updated"
	EventMessageDeleted  = "message:deleted"
	EventReactionAdded   = "reaction:added"
	EventReactionRemoved = "reaction:removed"
	EventUserOnline      = "user:online"
	EventUserOffline     = "user:offline"
	EventError           = "error"
)

// ClientEnvelope - конверт входящего события: имя + сырые данные,
// которые разбираются в типизированную полезную нагрузку.
type ClientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type ConversationRoomPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type SendMessagePayload struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	ClientID       string     `json:"client_id,omitempty"`
	Content        string     `json:"content"`
	Type           string     `json:"type,omitempty"`
	File           *FileMeta  `json:"file,omitempty"`
	ReplyTo        *uuid.UUID `json:"reply_to,omitempty"`
}

type UpdateMessagePayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

type DeleteMessagePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
}

type ReadPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// ClientEvent - разобранное событие от клиента. Ровно одно из полей
// полезной нагрузки не nil, в зависимости от Event.
type ClientEvent struct {
	Event string

	Auth          *AuthPayload
	Room          *ConversationRoomPayload
	SendMessage   *SendMessagePayload
	UpdateMessage *UpdateMessagePayload
	DeleteMessage *DeleteMessagePayload
	Typing        *TypingPayload
	Reaction      *ReactionPayload
	Read          *ReadPayload
}

// ParseClientEvent разбирает конверт в типизированное событие
func ParseClientEvent(raw []byte) (*ClientEvent, error) {
	var envelope ClientEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	event := &ClientEvent{Event: envelope.Event}

	var payload any
	switch envelope.Event {
	case EventAuth:
		event.Auth = &AuthPayload{}
		payload = event.Auth
	case EventConversationJoin, EventConversationLeave:
		event.Room = &ConversationRoomPayload{}
		payload = event.Room
	case EventMessageSend, EventMessageSendFile:
		event.SendMessage = &SendMessagePayload{}
		payload = event.SendMessage
	case EventMessageUpdate:
		event.UpdateMessage = &UpdateMessagePayload{}
		payload = event.UpdateMessage
	case EventMessageDelete:
		event.DeleteMessage = &DeleteMessagePayload{}
		payload = event.DeleteMessage
	case EventTypingStart, EventTypingStop:
		event.Typing = &TypingPayload{}
		payload = event.Typing
	case EventReactionAdd, EventReactionRemove:
		event.Reaction = &ReactionPayload{}
		payload = event.Reaction
	case EventMessagesRead:
		event.Read = &ReadPayload{}
		payload = event.Read
	default:
		return nil, fmt.Errorf("unknown event %q", envelope.Event)
	}

	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", envelope.Event, err)
		}
	}

	return event, nil
}

// ServerEvent - исходящее событие. Сериализуется тем же конвертом.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (e ServerEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type TypingEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
}

type MessageDeletedEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

type ReactionEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Emoji          string    `json:"emoji"`
	UserID         string    `json:"user_id"`
}

type MessagesReadEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
}

type PresenceEvent struct {
	UserID string `json:"user_id"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
