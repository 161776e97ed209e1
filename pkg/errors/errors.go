package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrBadRequest            = errors.New("bad request")
	ErrInternalServer        = errors.New("internal server error")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrNotParticipant        = errors.New("user is not a participant of the conversation")
	ErrNotGroupConversation  = errors.New("conversation is not a group")
	ErrNotMessageSender      = errors.New("only the sender can modify the message")
	ErrGroupNameRequired     = errors.New("group conversation requires a name")
	ErrNotEnoughParticipants = errors.New("conversation requires at least 2 participants")
	ErrDirectParticipants    = errors.New("direct conversation requires exactly 2 participants")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotMessageSender):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNotGroupConversation),
		errors.Is(err, ErrGroupNameRequired), errors.Is(err, ErrNotEnoughParticipants),
		errors.Is(err, ErrDirectParticipants):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
