package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger/internal/domain"
	"messenger/internal/service"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

const (
	// Время на запись одного сообщения клиенту
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Период ping. Должен быть меньше pongWait
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 64 * 1024

	// Время на аутентификацию после подключения
	authWait = 30 * time.Second

	sendBufferSize = 256
)

// Client - прослойка между websocket-соединением и Hub.
// Жизненный цикл: connected (аноним) -> authenticated -> disconnected.
// До аутентификации принимается единственное событие - auth.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Буфер исходящих сообщений. Канал не закрывается: остановку обоих
	// pump'ов обеспечивает закрытие соединения
	send chan []byte

	// Заполняется при аутентификации. Идентичность отправителя всегда
	// берется отсюда, никогда из полезной нагрузки события
	userID string

	// Комнаты клиента. Карта принадлежит горутине Hub.Run
	rooms map[string]bool

	chat     service.ChatService
	auth     service.AuthService
	presence service.PresenceService

	metrics *telemetry.Metrics
	log     logger.Logger

	// Гарантирует ровно один декремент presence-счетчика на соединение
	disconnectOnce sync.Once
}

func NewClient(
	hub *Hub,
	conn *websocket.Conn,
	chat service.ChatService,
	auth service.AuthService,
	presence service.PresenceService,
	metrics *telemetry.Metrics,
	log logger.Logger,
) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[string]bool),
		chat:     chat,
		auth:     auth,
		presence: presence,
		metrics:  metrics,
		log:      log,
	}
}

func (c *Client) authenticated() bool {
	return c.userID != ""
}

// ReadPump читает события соединения. Единственный читатель соединения -
// эта горутина.
func (c *Client) ReadPump() {
	defer func() {
		c.disconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Не аутентифицировался вовремя - закрываем соединение
	authTimer := time.AfterFunc(authWait, func() {
		if !c.authenticated() {
			c.log.Debug("Closing unauthenticated connection")
			_ = c.conn.Close()
		}
	})
	defer authTimer.Stop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("Websocket closed unexpectedly", "error", err, "user_id", c.userID)
			}
			return
		}

		event, err := domain.ParseClientEvent(raw)
		if err != nil {
			c.sendError(err.Error())
			continue
		}

		c.handleEvent(event)
	}
}

// WritePump пишет в соединение. Единственный писатель соединения -
// эта горутина.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(event *domain.ClientEvent) {
	ctx := context.Background()

	if !c.authenticated() {
		if event.Event == domain.EventAuth {
			c.handleAuth(ctx, event.Auth)
		} else {
			c.sendError("not authenticated")
		}
		return
	}

	switch event.Event {
	case domain.EventAuth:
		// Повторный auth на живом соединении игнорируется

	case domain.EventConversationJoin:
		c.handleConversationJoin(ctx, event.Room)

	case domain.EventConversationLeave:
		c.hub.Leave(c, conversationRoom(event.Room.ConversationID))

	case domain.EventMessageSend, domain.EventMessageSendFile:
		c.handleSendMessage(ctx, event.SendMessage)

	case domain.EventMessageUpdate:
		c.handleUpdateMessage(ctx, event.UpdateMessage)

	case domain.EventMessageDelete:
		c.handleDeleteMessage(ctx, event.DeleteMessage)

	case domain.EventTypingStart, domain.EventTypingStop:
		c.handleTyping(ctx, event.Event, event.Typing)

	case domain.EventReactionAdd, domain.EventReactionRemove:
		c.handleReaction(ctx, event.Event, event.Reaction)

	case domain.EventMessagesRead:
		c.handleMessagesRead(ctx, event.Read)
	}
}

func (c *Client) handleAuth(ctx context.Context, payload *domain.AuthPayload) {
	identity, err := c.auth.ValidateToken(ctx, payload.Token)
	if err != nil {
		c.sendError("invalid token")
		_ = c.conn.Close()
		return
	}

	c.userID = identity.UserID
	c.hub.Register(c)

	// Комната самого пользователя + комната каждой его беседы
	c.hub.Join(c, userRoom(c.userID))

	conversations, err := c.chat.GetUserConversations(ctx, c.userID)
	if err != nil {
		c.log.Error("Failed to load conversations on auth", "error", err, "user_id", c.userID)
	} else {
		for _, conversation := range conversations {
			c.hub.Join(c, conversationRoom(conversation.ID))
		}
	}

	first, err := c.presence.Connect(ctx, c.userID)
	if err != nil {
		c.log.Warn("Failed to update presence", "error", err, "user_id", c.userID)
		return
	}
	if first {
		// online объявляется только на первом соединении пользователя
		c.hub.PresenceEvent(domain.ServerEvent{
			Event: domain.EventUserOnline,
			Data:  domain.PresenceEvent{UserID: c.userID},
		}, c)
	}
}

func (c *Client) handleConversationJoin(ctx context.Context, payload *domain.ConversationRoomPayload) {
	conversation, err := c.chat.GetConversation(ctx, payload.ConversationID)
	if err != nil {
		c.sendError("conversation not found")
		return
	}
	if !conversation.HasParticipant(c.userID) {
		c.sendError("not a participant")
		return
	}

	c.hub.Join(c, conversationRoom(conversation.ID))
}

func (c *Client) handleSendMessage(ctx context.Context, payload *domain.SendMessagePayload) {
	message, err := c.chat.SendMessage(ctx, service.SendMessageInput{
		ConversationID: payload.ConversationID,
		SenderID:       c.userID,
		ClientID:       payload.ClientID,
		Content:        payload.Content,
		Type:           payload.Type,
		File:           payload.File,
		ReplyTo:        payload.ReplyTo,
	})
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.hub.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageNew,
		Data:  message,
	})

	// Отправка неявно завершает набор текста
	c.hub.ConversationEventExcept(message.ConversationID, domain.ServerEvent{
		Event: domain.EventTypingStop,
		Data:  domain.TypingEvent{ConversationID: message.ConversationID, UserID: c.userID},
	}, c)
}

func (c *Client) handleUpdateMessage(ctx context.Context, payload *domain.UpdateMessagePayload) {
	message, err := c.chat.UpdateMessage(ctx, payload.MessageID, c.userID, payload.Content)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.hub.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageUpdated,
		Data:  message,
	})
}

func (c *Client) handleDeleteMessage(ctx context.Context, payload *domain.DeleteMessagePayload) {
	message, err := c.chat.DeleteMessage(ctx, payload.MessageID, c.userID)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.hub.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageDeleted,
		Data: domain.MessageDeletedEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
		},
	})
}

func (c *Client) handleTyping(ctx context.Context, eventName string, payload *domain.TypingPayload) {
	// Relay только для участников: в чужую комнату индикатор набора
	// не инжектируется. Чтение идет через кэш, это дешево
	conversation, err := c.chat.GetConversation(ctx, payload.ConversationID)
	if err != nil {
		c.sendError("conversation not found")
		return
	}
	if !conversation.HasParticipant(c.userID) {
		c.sendError("not a participant")
		return
	}

	// Сам индикатор хранилище не трогает - relay по комнате
	c.hub.ConversationEventExcept(payload.ConversationID, domain.ServerEvent{
		Event: eventName,
		Data:  domain.TypingEvent{ConversationID: payload.ConversationID, UserID: c.userID},
	}, c)
}

func (c *Client) handleReaction(ctx context.Context, eventName string, payload *domain.ReactionPayload) {
	var message *domain.Message
	var err error
	var outEvent string

	if eventName == domain.EventReactionAdd {
		message, err = c.chat.AddReaction(ctx, payload.MessageID, payload.Emoji, c.userID)
		outEvent = domain.EventReactionAdded
	} else {
		message, err = c.chat.RemoveReaction(ctx, payload.MessageID, payload.Emoji, c.userID)
		outEvent = domain.EventReactionRemoved
	}
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.hub.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: outEvent,
		Data: domain.ReactionEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			Emoji:          payload.Emoji,
			UserID:         c.userID,
		},
	})
}

func (c *Client) handleMessagesRead(ctx context.Context, payload *domain.ReadPayload) {
	if err := c.chat.MarkMessagesAsRead(ctx, payload.ConversationID, c.userID); err != nil {
		c.sendError(err.Error())
		return
	}

	// Читатель и так знает, что прочитал - квитанция уходит остальным
	c.hub.ConversationEventExcept(payload.ConversationID, domain.ServerEvent{
		Event: domain.EventMessagesRead,
		Data:  domain.MessagesReadEvent{ConversationID: payload.ConversationID, UserID: c.userID},
	}, c)
}

func (c *Client) disconnect() {
	if !c.authenticated() {
		return
	}

	c.disconnectOnce.Do(func() {
		last, err := c.presence.Disconnect(context.Background(), c.userID)
		if err != nil {
			c.log.Warn("Failed to update presence on disconnect", "error", err, "user_id", c.userID)
		} else if last {
			c.hub.PresenceEvent(domain.ServerEvent{
				Event: domain.EventUserOffline,
				Data:  domain.PresenceEvent{UserID: c.userID},
			}, c)
		}

		c.hub.Unregister(c)
	})
}

// sendError - приватное событие ошибки: уходит только этому
// соединению, не в комнату
func (c *Client) sendError(message string) {
	event := domain.ServerEvent{
		Event: domain.EventError,
		Data:  domain.ErrorEvent{Message: message},
	}

	payload, err := event.Marshal()
	if err != nil {
		return
	}

	select {
	case c.send <- payload:
	default:
	}
}
