package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/gateway"
	"messenger/internal/service"
	pkgerrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type MessageHandler struct {
	chatService service.ChatService
	notifier    gateway.Notifier
	log         logger.Logger
}

func NewMessageHandler(chatService service.ChatService, notifier gateway.Notifier, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		chatService: chatService,
		notifier:    notifier,
		log:         log,
	}
}

type SendMessageRequest struct {
	ConversationID uuid.UUID        `json:"conversation_id" binding:"required"`
	ClientID       string           `json:"client_id,omitempty"`
	Content        string           `json:"content"`
	Type           string           `json:"type,omitempty"`
	File           *domain.FileMeta `json:"file,omitempty"`
	ReplyTo        *uuid.UUID       `json:"reply_to,omitempty"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Отправитель - только аутентифицированный пользователь запроса
	message, err := h.chatService.SendMessage(c.Request.Context(), service.SendMessageInput{
		ConversationID: req.ConversationID,
		SenderID:       c.GetString("user_id"),
		ClientID:       req.ClientID,
		Content:        req.Content,
		Type:           req.Type,
		File:           req.File,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageNew,
		Data:  message,
	})

	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) History(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	conversation, err := h.chatService.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}
	if !conversation.HasParticipant(c.GetString("user_id")) {
		c.JSON(http.StatusForbidden, gin.H{"error": pkgerrors.ErrNotParticipant.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	messages, err := h.chatService.GetMessages(c.Request.Context(), conversationID, limit, skip)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, messages)
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.chatService.UpdateMessage(c.Request.Context(), messageID, c.GetString("user_id"), req.Content)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageUpdated,
		Data:  message,
	})

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	message, err := h.chatService.DeleteMessage(c.Request.Context(), messageID, c.GetString("user_id"))
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventMessageDeleted,
		Data: domain.MessageDeletedEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
		},
	})

	c.JSON(http.StatusOK, message)
}

type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *MessageHandler) AddReaction(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	message, err := h.chatService.AddReaction(c.Request.Context(), messageID, req.Emoji, userID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventReactionAdded,
		Data: domain.ReactionEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			Emoji:          req.Emoji,
			UserID:         userID,
		},
	})

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	emoji := c.Query("emoji")
	if emoji == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji query parameter is required"})
		return
	}

	userID := c.GetString("user_id")
	message, err := h.chatService.RemoveReaction(c.Request.Context(), messageID, emoji, userID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(message.ConversationID, domain.ServerEvent{
		Event: domain.EventReactionRemoved,
		Data: domain.ReactionEvent{
			ConversationID: message.ConversationID,
			MessageID:      message.ID,
			Emoji:          emoji,
			UserID:         userID,
		},
	})

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	userID := c.GetString("user_id")
	if err := h.chatService.MarkMessagesAsRead(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.ConversationEvent(conversationID, domain.ServerEvent{
		Event: domain.EventMessagesRead,
		Data:  domain.MessagesReadEvent{ConversationID: conversationID, UserID: userID},
	})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
