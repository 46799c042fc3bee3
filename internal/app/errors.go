package app

import (
	"errors"
	"fmt"
	"net/http"

	"classchat/api/internal/auth"
	"classchat/api/internal/chat"
)

// DomainError is an HTTP-level failure raised before the chat engine runs.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details map[string]string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details map[string]string) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details map[string]string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		switch chatErr.Kind {
		case chat.KindValidation:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", chatErr.Message, chatErr.Fields
		case chat.KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", chatErr.Message, nil
		case chat.KindForbidden:
			return http.StatusForbidden, "FORBIDDEN", chatErr.Message, nil
		}
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
