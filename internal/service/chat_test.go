package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/repository"
	pkgerrors "messenger/pkg/errors"
	"messenger/pkg/logger"
	"messenger/pkg/telemetry"
)

// In-memory фейки поверх интерфейсов репозиториев. Кэш умеет
// "падать" (down=true), чтобы проверять деградацию до промаха.

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	directKeys    map[string]uuid.UUID
	// Воспроизведение гонки lookup-then-create: первый GetByDirectKey
	// отвечает "не найдено", хотя запись уже есть
	hideFirstLookup bool
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		directKeys:    make(map[string]uuid.UUID),
	}
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conversation.Type == domain.ConversationTypeDirect && len(conversation.Participants) == 2 {
		key := domain.DirectKey(conversation.Participants[0], conversation.Participants[1])
		if _, ok := r.directKeys[key]; ok {
			return repository.ErrDirectKeyConflict
		}
		r.directKeys[key] = conversation.ID
	}

	r.conversations[conversation.ID] = copyConversation(conversation)
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, pkgerrors.ErrConversationNotFound
	}
	return copyConversation(conversation), nil
}

func (r *fakeConversationRepo) GetByDirectKey(ctx context.Context, directKey string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hideFirstLookup {
		r.hideFirstLookup = false
		return nil, pkgerrors.ErrConversationNotFound
	}

	id, ok := r.directKeys[directKey]
	if !ok {
		return nil, pkgerrors.ErrConversationNotFound
	}
	return copyConversation(r.conversations[id]), nil
}

func (r *fakeConversationRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*domain.Conversation
	for _, conversation := range r.conversations {
		if conversation.HasParticipant(userID) {
			result = append(result, copyConversation(conversation))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *fakeConversationRepo) UpdateLastMessage(ctx context.Context, id uuid.UUID, summary *domain.LastMessageSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return pkgerrors.ErrConversationNotFound
	}
	conversation.LastMessage = summary
	conversation.UpdatedAt = time.Now()
	return nil
}

func (r *fakeConversationRepo) UpdateMeta(ctx context.Context, id uuid.UUID, name, avatar *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return pkgerrors.ErrConversationNotFound
	}
	conversation.Name = name
	conversation.Avatar = avatar
	return nil
}

func (r *fakeConversationRepo) AddParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return pkgerrors.ErrConversationNotFound
	}
	if !conversation.HasParticipant(userID) {
		conversation.Participants = append(conversation.Participants, userID)
	}
	return nil
}

func (r *fakeConversationRepo) RemoveParticipant(ctx context.Context, id uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return pkgerrors.ErrConversationNotFound
	}
	kept := conversation.Participants[:0]
	for _, p := range conversation.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	conversation.Participants = kept
	return nil
}

type fakeMessageRepo struct {
	mu             sync.Mutex
	byConversation map[uuid.UUID][]*domain.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{byConversation: make(map[uuid.UUID][]*domain.Message)}
}

func copyMessage(m *domain.Message) *domain.Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Reactions = append([]domain.Reaction(nil), m.Reactions...)
	return &out
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConversation[message.ConversationID] = append(r.byConversation[message.ConversationID], copyMessage(message))
	return nil
}

func (r *fakeMessageRepo) find(id uuid.UUID) *domain.Message {
	for _, list := range r.byConversation {
		for _, msg := range list {
			if msg.ID == id {
				return msg
			}
		}
	}
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.find(id)
	if msg == nil {
		return nil, pkgerrors.ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, skip int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byConversation[conversationID]
	// Хранение - старые первыми, выдача - новые первыми
	var page []*domain.Message
	for i := len(list) - 1 - skip; i >= 0 && len(page) < limit; i-- {
		page = append(page, copyMessage(list[i]))
	}
	return page, nil
}

func (r *fakeMessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.find(id)
	if msg == nil || msg.IsDeleted {
		return pkgerrors.ErrMessageNotFound
	}
	msg.Content = content
	msg.IsEdited = true
	msg.UpdatedAt = time.Now()
	return nil
}

func (r *fakeMessageRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.find(id)
	if msg == nil {
		return pkgerrors.ErrMessageNotFound
	}
	msg.Content = domain.DeletedMessageContent
	msg.File = nil
	msg.IsDeleted = true
	msg.UpdatedAt = time.Now()
	return nil
}

func (r *fakeMessageRepo) SetReactions(ctx context.Context, id uuid.UUID, reactions []domain.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := r.find(id)
	if msg == nil {
		return pkgerrors.ErrMessageNotFound
	}
	msg.Reactions = append([]domain.Reaction(nil), reactions...)
	return nil
}

func (r *fakeMessageRepo) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.byConversation[conversationID] {
		if msg.SenderID != userID && !msg.IsReadBy(userID) {
			msg.ReadBy = append(msg.ReadBy, userID)
		}
	}
	return nil
}

func (r *fakeMessageRepo) CountUnread(ctx context.Context, conversationID uuid.UUID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, msg := range r.byConversation[conversationID] {
		if msg.SenderID != userID && !msg.IsReadBy(userID) && !msg.IsDeleted {
			count++
		}
	}
	return count, nil
}

var errCacheDown = errors.New("cache unavailable")

type fakeCache struct {
	mu            sync.Mutex
	down          bool
	conversations map[uuid.UUID]*domain.Conversation
	userLists     map[string][]*domain.Conversation
	unread        map[string]int64
	online        map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		userLists:     make(map[string][]*domain.Conversation),
		unread:        make(map[string]int64),
		online:        make(map[string]int64),
	}
}

func unreadCacheKey(userID string, conversationID uuid.UUID) string {
	return userID + ":" + conversationID.String()
}

func (c *fakeCache) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errCacheDown
	}
	conversation, ok := c.conversations[id]
	if !ok {
		return nil, nil
	}
	return copyConversation(conversation), nil
}

func (c *fakeCache) SetConversation(ctx context.Context, conversation *domain.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	c.conversations[conversation.ID] = copyConversation(conversation)
	return nil
}

func (c *fakeCache) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	delete(c.conversations, id)
	return nil
}

func (c *fakeCache) GetUserConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errCacheDown
	}
	list, ok := c.userLists[userID]
	if !ok {
		return nil, nil
	}
	return list, nil
}

func (c *fakeCache) SetUserConversations(ctx context.Context, userID string, conversations []*domain.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	c.userLists[userID] = conversations
	return nil
}

func (c *fakeCache) DeleteUserConversations(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	delete(c.userLists, userID)
	return nil
}

func (c *fakeCache) GetUnread(ctx context.Context, userID string, conversationID uuid.UUID) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, false, errCacheDown
	}
	count, ok := c.unread[unreadCacheKey(userID, conversationID)]
	return count, ok, nil
}

func (c *fakeCache) SetUnread(ctx context.Context, userID string, conversationID uuid.UUID, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	c.unread[unreadCacheKey(userID, conversationID)] = count
	return nil
}

func (c *fakeCache) IncrUnread(ctx context.Context, userID string, conversationID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	// Как и в Redis-реализации: инкремент только существующего ключа
	key := unreadCacheKey(userID, conversationID)
	if _, ok := c.unread[key]; ok {
		c.unread[key]++
	}
	return nil
}

func (c *fakeCache) IncrOnline(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, errCacheDown
	}
	c.online[userID]++
	return c.online[userID], nil
}

func (c *fakeCache) DecrOnline(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, errCacheDown
	}
	c.online[userID]--
	if c.online[userID] <= 0 {
		delete(c.online, userID)
		return 0, nil
	}
	return c.online[userID], nil
}

func (c *fakeCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return false, errCacheDown
	}
	return c.online[userID] > 0, nil
}

type chatFixture struct {
	service  ChatService
	convRepo *fakeConversationRepo
	msgRepo  *fakeMessageRepo
	cache    *fakeCache
}

func newChatFixture() *chatFixture {
	convRepo := newFakeConversationRepo()
	msgRepo := newFakeMessageRepo()
	cache := newFakeCache()
	svc := NewChatService(convRepo, msgRepo, cache, telemetry.New(), logger.New("error"))
	return &chatFixture{service: svc, convRepo: convRepo, msgRepo: msgRepo, cache: cache}
}

func (f *chatFixture) createDirect(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	conversation, err := f.service.CreateConversation(context.Background(), CreateConversationInput{
		Participants: []string{a, b},
		Type:         domain.ConversationTypeDirect,
		CreatedBy:    a,
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conversation
}

func (f *chatFixture) send(t *testing.T, conversationID uuid.UUID, sender, content string) *domain.Message {
	t.Helper()
	message, err := f.service.SendMessage(context.Background(), SendMessageInput{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	return message
}

func TestCreateDirectConversationIdempotent(t *testing.T) {
	f := newChatFixture()

	first := f.createDirect(t, "alice", "bob")
	// Повторное создание с участниками в другом порядке
	second := f.createDirect(t, "bob", "alice")

	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}
}

func TestCreateDirectConversationRace(t *testing.T) {
	f := newChatFixture()

	first := f.createDirect(t, "alice", "bob")

	// Лукап "не видит" существующую запись - уникальный индекс ловит
	// вставку, сервис перечитывает и возвращает победителя гонки
	f.convRepo.hideFirstLookup = true
	second := f.createDirect(t, "alice", "bob")

	if first.ID != second.ID {
		t.Fatalf("race produced a duplicate conversation: %s vs %s", first.ID, second.ID)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	_, err := f.service.CreateConversation(ctx, CreateConversationInput{
		Participants: []string{"alice", "bob", "carol"},
		Type:         domain.ConversationTypeDirect,
	})
	if !errors.Is(err, pkgerrors.ErrDirectParticipants) {
		t.Errorf("direct with 3 participants: got %v", err)
	}

	_, err = f.service.CreateConversation(ctx, CreateConversationInput{
		Participants: []string{"alice", "bob"},
		Type:         domain.ConversationTypeGroup,
	})
	if !errors.Is(err, pkgerrors.ErrGroupNameRequired) {
		t.Errorf("group without name: got %v", err)
	}

	// Дубликаты участников схлопываются до валидации
	_, err = f.service.CreateConversation(ctx, CreateConversationInput{
		Participants: []string{"alice", "alice"},
		Type:         domain.ConversationTypeDirect,
	})
	if !errors.Is(err, pkgerrors.ErrDirectParticipants) {
		t.Errorf("direct with duplicate participant: got %v", err)
	}
}

func TestSendMessageReadAfterWrite(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	message := f.send(t, conversation.ID, "alice", "hello")

	// Кэш беседы инвалидирован записью: чтение обязано пройти в БД
	// и увидеть свежий last_message
	got, err := f.service.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.MessageID != message.ID {
		t.Fatalf("last message not visible after send: %+v", got.LastMessage)
	}
	if got.LastMessage.Content != "hello" {
		t.Errorf("last message content = %q", got.LastMessage.Content)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newChatFixture()

	conversation := f.createDirect(t, "alice", "bob")

	_, err := f.service.SendMessage(context.Background(), SendMessageInput{
		ConversationID: conversation.ID,
		SenderID:       "mallory",
		Content:        "hi",
	})
	if !errors.Is(err, pkgerrors.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestUnreadAccounting(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	f.send(t, conversation.ID, "alice", "one")
	f.send(t, conversation.ID, "alice", "two")

	// Счетчика в кэше нет - пересчет из read_by в хранилище
	count, err := f.service.GetUnreadCount(ctx, "bob", conversation.ID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("bob unread = %d, want 2", count)
	}

	// Отправитель свои сообщения не считает
	count, err = f.service.GetUnreadCount(ctx, "alice", conversation.ID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("alice unread = %d, want 0", count)
	}

	// Теперь счетчик bob закеширован и инкрементируется на новых отправках
	f.send(t, conversation.ID, "alice", "three")
	count, _ = f.service.GetUnreadCount(ctx, "bob", conversation.ID)
	if count != 3 {
		t.Fatalf("bob unread after third send = %d, want 3", count)
	}

	if err := f.service.MarkMessagesAsRead(ctx, conversation.ID, "bob"); err != nil {
		t.Fatalf("MarkMessagesAsRead: %v", err)
	}
	count, _ = f.service.GetUnreadCount(ctx, "bob", conversation.ID)
	if count != 0 {
		t.Fatalf("bob unread after read = %d, want 0", count)
	}

	// Повторный mark read - no-op
	if err := f.service.MarkMessagesAsRead(ctx, conversation.ID, "bob"); err != nil {
		t.Fatalf("repeated MarkMessagesAsRead: %v", err)
	}
	count, _ = f.service.GetUnreadCount(ctx, "bob", conversation.ID)
	if count != 0 {
		t.Fatalf("bob unread after repeated read = %d, want 0", count)
	}
}

func TestTotalUnreadCount(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	first := f.createDirect(t, "alice", "bob")
	second := f.createDirect(t, "carol", "bob")
	f.send(t, first.ID, "alice", "hi")
	f.send(t, second.ID, "carol", "hey")
	f.send(t, second.ID, "carol", "there")

	total, err := f.service.GetTotalUnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("GetTotalUnreadCount: %v", err)
	}
	if total != 3 {
		t.Fatalf("total unread = %d, want 3", total)
	}
}

func TestCacheDegradation(t *testing.T) {
	f := newChatFixture()
	f.cache.down = true
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	message := f.send(t, conversation.ID, "alice", "hello")

	// Все чтения обслуживаются из БД, операции не падают
	got, err := f.service.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation with cache down: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.MessageID != message.ID {
		t.Fatalf("stale read with cache down: %+v", got.LastMessage)
	}

	count, err := f.service.GetUnreadCount(ctx, "bob", conversation.ID)
	if err != nil {
		t.Fatalf("GetUnreadCount with cache down: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread with cache down = %d, want 1", count)
	}

	list, err := f.service.GetUserConversations(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUserConversations with cache down: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("conversations with cache down = %d, want 1", len(list))
	}
}

func TestUpdateMessage(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	message := f.send(t, conversation.ID, "alice", "hello")

	_, err := f.service.UpdateMessage(ctx, message.ID, "bob", "hacked")
	if !errors.Is(err, pkgerrors.ErrNotMessageSender) {
		t.Fatalf("edit by non-sender: got %v", err)
	}

	updated, err := f.service.UpdateMessage(ctx, message.ID, "alice", "hello, edited")
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if !updated.IsEdited || updated.Content != "hello, edited" {
		t.Fatalf("unexpected message after edit: %+v", updated)
	}

	// Превью последнего сообщения беседы обновлено
	got, err := f.service.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "hello, edited" {
		t.Fatalf("last message preview not refreshed: %+v", got.LastMessage)
	}
}

func TestDeleteMessageKeepsPagination(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	f.send(t, conversation.ID, "alice", "first")
	second := f.send(t, conversation.ID, "alice", "second")
	f.send(t, conversation.ID, "alice", "third")

	deleted, err := f.service.DeleteMessage(ctx, second.ID, "alice")
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if !deleted.IsDeleted || deleted.Content != domain.DeletedMessageContent {
		t.Fatalf("unexpected tombstone: %+v", deleted)
	}

	// Tombstone остается на своей позиции в выдаче
	messages, err := f.service.GetMessages(ctx, conversation.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("page size = %d, want 3", len(messages))
	}
	if messages[1].ID != second.ID || !messages[1].IsDeleted {
		t.Fatalf("tombstone moved or missing: %+v", messages[1])
	}

	// Редактирование удаленного сообщения запрещено
	if _, err := f.service.UpdateMessage(ctx, second.ID, "alice", "resurrect"); !errors.Is(err, pkgerrors.ErrMessageNotFound) {
		t.Errorf("edit of deleted message: got %v", err)
	}
}

func TestReactions(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	conversation := f.createDirect(t, "alice", "bob")
	message := f.send(t, conversation.ID, "alice", "hello")

	reacted, err := f.service.AddReaction(ctx, message.ID, "👍", "bob")
	if err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if len(reacted.Reactions) != 1 {
		t.Fatalf("reactions = %d, want 1", len(reacted.Reactions))
	}

	// Повторная реакция тем же emoji не дублируется
	reacted, err = f.service.AddReaction(ctx, message.ID, "👍", "bob")
	if err != nil {
		t.Fatalf("repeated AddReaction: %v", err)
	}
	if len(reacted.Reactions) != 1 {
		t.Fatalf("reactions after repeat = %d, want 1", len(reacted.Reactions))
	}

	if _, err := f.service.AddReaction(ctx, message.ID, "👍", "mallory"); !errors.Is(err, pkgerrors.ErrNotParticipant) {
		t.Errorf("reaction by non-participant: got %v", err)
	}

	removed, err := f.service.RemoveReaction(ctx, message.ID, "👍", "bob")
	if err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	if len(removed.Reactions) != 0 {
		t.Fatalf("reactions after remove = %d, want 0", len(removed.Reactions))
	}
}

func TestPatchConversationMeta(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	name := "team"
	group, err := f.service.CreateConversation(ctx, CreateConversationInput{
		Participants: []string{"alice", "bob", "carol"},
		Type:         domain.ConversationTypeGroup,
		Name:         &name,
		CreatedBy:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	patched, err := f.service.PatchConversationMeta(ctx, group.ID, "alice", []byte(`{"avatar":"http://cdn/x.png"}`))
	if err != nil {
		t.Fatalf("PatchConversationMeta: %v", err)
	}
	if patched.Name == nil || *patched.Name != "team" {
		t.Errorf("merge patch dropped name: %+v", patched.Name)
	}
	if patched.Avatar == nil || *patched.Avatar != "http://cdn/x.png" {
		t.Errorf("avatar not applied: %+v", patched.Avatar)
	}

	// Стереть имя группы нельзя
	if _, err := f.service.PatchConversationMeta(ctx, group.ID, "alice", []byte(`{"name":null}`)); !errors.Is(err, pkgerrors.ErrGroupNameRequired) {
		t.Errorf("clearing group name: got %v", err)
	}

	// Direct-беседы не редактируются
	direct := f.createDirect(t, "alice", "bob")
	if _, err := f.service.PatchConversationMeta(ctx, direct.ID, "alice", []byte(`{"name":"x"}`)); !errors.Is(err, pkgerrors.ErrNotGroupConversation) {
		t.Errorf("patch on direct conversation: got %v", err)
	}
}

func TestGroupMembership(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	name := "team"
	group, err := f.service.CreateConversation(ctx, CreateConversationInput{
		Participants: []string{"alice", "bob"},
		Type:         domain.ConversationTypeGroup,
		Name:         &name,
		CreatedBy:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	updated, err := f.service.AddParticipant(ctx, group.ID, "carol")
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if !updated.HasParticipant("carol") {
		t.Fatalf("carol not added: %v", updated.Participants)
	}

	updated, err = f.service.RemoveParticipant(ctx, group.ID, "bob")
	if err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if updated.HasParticipant("bob") {
		t.Fatalf("bob not removed: %v", updated.Participants)
	}

	direct := f.createDirect(t, "alice", "bob")
	if _, err := f.service.AddParticipant(ctx, direct.ID, "carol"); !errors.Is(err, pkgerrors.ErrNotGroupConversation) {
		t.Errorf("AddParticipant on direct: got %v", err)
	}
}
