package gateway

import (
	"fmt"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

// Notifier - то, что видят REST-обработчики: мутация через HTTP должна
// разойтись по комнатам так же, как мутация через websocket.
type Notifier interface {
	ConversationEvent(conversationID uuid.UUID, event domain.ServerEvent)
	UserEvent(userID string, event domain.ServerEvent)
	PresenceEvent(event domain.ServerEvent, exclude *Client)
	// JoinConversation подключает все живые соединения пользователя
	// к комнате беседы (например, когда его добавили в группу)
	JoinConversation(userID string, conversationID uuid.UUID)
}

func conversationRoom(id uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", id.String())
}

func userRoom(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

type subscription struct {
	client *Client
	room   string
}

type userSubscription struct {
	userID string
	room   string
}

type broadcast struct {
	// room == "" означает рассылку всем подключенным клиентам
	room    string
	payload []byte
	event   string
	exclude *Client
}

// Hub владеет состоянием комнат и соединений. Все карты конфайнятся
// в горутине Run - снаружи только каналы.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription
	joinUser   chan userSubscription
	send       chan broadcast

	// room -> клиенты комнаты
	rooms map[string]map[*Client]bool
	// userID -> все соединения пользователя (multi-device)
	byUser map[string]map[*Client]bool

	metrics *telemetry.Metrics
	log     logger.Logger
}

func NewHub(metrics *telemetry.Metrics, log logger.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		leave:      make(chan subscription),
		joinUser:   make(chan userSubscription),
		send:       make(chan broadcast, 256),
		rooms:      make(map[string]map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		metrics:    metrics,
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true

		case client := <-h.unregister:
			h.removeClient(client)

		case sub := <-h.join:
			h.addToRoom(sub.client, sub.room)

		case sub := <-h.leave:
			h.removeFromRoom(sub.client, sub.room)

		case sub := <-h.joinUser:
			for client := range h.byUser[sub.userID] {
				h.addToRoom(client, sub.room)
			}

		case msg := <-h.send:
			h.fanOut(msg)
		}
	}
}

// Register добавляет аутентифицированное соединение. Анонимные
// соединения в hub не попадают - им нечего рассылать.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) Join(client *Client, room string) {
	h.join <- subscription{client: client, room: room}
}

func (h *Hub) Leave(client *Client, room string) {
	h.leave <- subscription{client: client, room: room}
}

func (h *Hub) JoinConversation(userID string, conversationID uuid.UUID) {
	h.joinUser <- userSubscription{userID: userID, room: conversationRoom(conversationID)}
}

func (h *Hub) ConversationEvent(conversationID uuid.UUID, event domain.ServerEvent) {
	h.broadcastRoom(conversationRoom(conversationID), event, nil)
}

// ConversationEventExcept - то же, но без одного соединения
// (read-квитанции не возвращаются читателю)
func (h *Hub) ConversationEventExcept(conversationID uuid.UUID, event domain.ServerEvent, exclude *Client) {
	h.broadcastRoom(conversationRoom(conversationID), event, exclude)
}

func (h *Hub) UserEvent(userID string, event domain.ServerEvent) {
	h.broadcastRoom(userRoom(userID), event, nil)
}

// PresenceEvent рассылается всем подключенным клиентам
func (h *Hub) PresenceEvent(event domain.ServerEvent, exclude *Client) {
	h.broadcastRoom("", event, exclude)
}

func (h *Hub) broadcastRoom(room string, event domain.ServerEvent, exclude *Client) {
	payload, err := event.Marshal()
	if err != nil {
		h.log.Error("Failed to marshal server event", "error", err, "event", event.Event)
		return
	}
	h.send <- broadcast{room: room, payload: payload, event: event.Event, exclude: exclude}
}

func (h *Hub) fanOut(msg broadcast) {
	var targets map[*Client]bool
	if msg.room == "" {
		targets = make(map[*Client]bool, len(h.byUser))
		for _, clients := range h.byUser {
			for client := range clients {
				targets[client] = true
			}
		}
	} else {
		targets = h.rooms[msg.room]
	}

	for client := range targets {
		if client == msg.exclude {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			// Переполненный буфер означает мертвое или безнадежно
			// медленное соединение - снимаем его
			h.log.Warn("Dropping slow client", "user_id", client.userID)
			h.removeClient(client)
		}
	}

	h.metrics.EventsFannedOut.WithLabelValues(msg.event).Inc()
}

func (h *Hub) addToRoom(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

func (h *Hub) removeFromRoom(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

func (h *Hub) removeClient(client *Client) {
	if clients, ok := h.byUser[client.userID]; ok && clients[client] {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.byUser, client.userID)
		}

		for room := range client.rooms {
			h.removeFromRoom(client, room)
		}

		// Канал send не закрываем: в него пишут и hub, и сам клиент.
		// Закрытие соединения останавливает оба pump'а
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}
