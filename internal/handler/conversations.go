package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger/internal/gateway"
	"messenger/internal/service"
	pkgerrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

type ConversationHandler struct {
	chatService service.ChatService
	notifier    gateway.Notifier
	log         logger.Logger
}

func NewConversationHandler(chatService service.ChatService, notifier gateway.Notifier, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		chatService: chatService,
		notifier:    notifier,
		log:         log,
	}
}

type CreateConversationRequest struct {
	Participants []string `json:"participants" binding:"required"`
	Type         string   `json:"type" binding:"required"`
	Name         *string  `json:"name,omitempty"`
	Avatar       *string  `json:"avatar,omitempty"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	userID := c.GetString("user_id")

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Создатель всегда участник
	participants := req.Participants
	found := false
	for _, p := range participants {
		if p == userID {
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, userID)
	}

	conversation, err := h.chatService.CreateConversation(c.Request.Context(), service.CreateConversationInput{
		Participants: participants,
		Type:         req.Type,
		Name:         req.Name,
		Avatar:       req.Avatar,
		CreatedBy:    userID,
	})
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	// Живые соединения участников сразу подключаются к комнате
	for _, participant := range conversation.Participants {
		h.notifier.JoinConversation(participant, conversation.ID)
	}

	c.JSON(http.StatusCreated, conversation)
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetString("user_id")

	// Чужой список бесед не отдаем
	if requested := c.Query("userId"); requested != "" && requested != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": pkgerrors.ErrForbidden.Error()})
		return
	}

	conversations, err := h.chatService.GetUserConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetByID(c *gin.Context) {
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

	c.JSON(http.StatusOK, conversation)
}

// PatchMeta применяет RFC 7386 merge-patch к имени и аватару группы
func (h *ConversationHandler) PatchMeta(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	patch, err := io.ReadAll(c.Request.Body)
	if err != nil || len(patch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch body"})
		return
	}

	conversation, err := h.chatService.PatchConversationMeta(c.Request.Context(), conversationID, c.GetString("user_id"), patch)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.chatService.AddParticipant(c.Request.Context(), conversationID, req.UserID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	h.notifier.JoinConversation(req.UserID, conversationID)

	c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	conversation, err := h.chatService.RemoveParticipant(c.Request.Context(), conversationID, c.Param("userId"))
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation ID"})
		return
	}

	count, err := h.chatService.GetUnreadCount(c.Request.Context(), c.GetString("user_id"), conversationID)
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *ConversationHandler) TotalUnreadCount(c *gin.Context) {
	count, err := h.chatService.GetTotalUnreadCount(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		c.JSON(pkgerrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": count})
}
