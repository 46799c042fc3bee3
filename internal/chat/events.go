package chat

import (
	"errors"
	"time"

	"classchat/api/internal/rbac"
	"classchat/api/internal/store"
)

// Live event names.
const (
	EventConnected   = "connected"
	EventNewMessage  = "new_message"
	EventMessageSent = "message_sent"
	EventMessageRead = "message_read"
	EventTyping      = "typing"
	EventUnreadCount = "unread_count"
	EventError       = "error"

	EventSendMessage    = "send_message"
	EventStopTyping     = "stop_typing"
	EventMarkRead       = "mark_read"
	EventMarkAllRead    = "mark_all_read"
	EventGetUnreadCount = "get_unread_count"
)

type ParticipantView struct {
	UserID      string    `json:"userId"`
	UserType    rbac.Kind `json:"userType"`
	DisplayName string    `json:"displayName,omitempty"`
	Contact     string    `json:"contact,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
}

type MessageView struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversationId"`
	Sender         ParticipantView    `json:"sender"`
	Receiver       ParticipantView    `json:"receiver"`
	Content        string             `json:"content"`
	MessageType    string             `json:"messageType"`
	Attachments    []store.Attachment `json:"attachments"`
	IsRead         bool               `json:"isRead"`
	ReadAt         *time.Time         `json:"readAt"`
	CreatedAt      time.Time          `json:"createdAt"`
	EditedAt       *time.Time         `json:"editedAt,omitempty"`
}

type ConversationView struct {
	ID               string            `json:"id"`
	Participants     []ParticipantView `json:"participants"`
	ConversationType string            `json:"conversationType"`
	LastMessage      *string           `json:"lastMessage"`
	LastMessageAt    *time.Time        `json:"lastMessageAt"`
	IsActive         bool              `json:"isActive"`
	UnreadCount      *int              `json:"unreadCount,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type MessagePageView struct {
	Messages   []MessageView    `json:"messages"`
	Pagination store.Pagination `json:"pagination"`
}

type ReadReceipt struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type ConversationReadResult struct {
	ConversationID     string `json:"conversationId"`
	MarkedCount        int64  `json:"markedCount"`
	UpdatedUnreadCount int    `json:"updatedUnreadCount"`
}

type TypingEvent struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	UserType       rbac.Kind `json:"userType"`
	IsTyping       bool      `json:"isTyping"`
}

type UnreadCountEvent struct {
	Count int `json:"count"`
}

type ConnectedEvent struct {
	UserID   string    `json:"userId"`
	UserType rbac.Kind `json:"userType"`
}

type ErrorEvent struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"errors,omitempty"`
}

// ErrorEventFor converts any error into the payload sent to a live client.
// Unexpected errors are reported generically.
func ErrorEventFor(err error) ErrorEvent {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return ErrorEvent{Message: chatErr.Message, Code: string(chatErr.Kind), Fields: chatErr.Fields}
	}
	return ErrorEvent{Message: "internal error", Code: "internal"}
}
