package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"classchat/api/internal/chat"
	"classchat/api/internal/rbac"
	"classchat/api/internal/search"
	"classchat/api/internal/store"
)

const maxSearchLimit = 50

func (s *HTTPServer) handleGetOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OtherPartyID   string `json:"otherPartyId"`
		OtherPartyType string `json:"otherPartyType"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	caller := callerOf(r)

	if strings.TrimSpace(body.OtherPartyID) == "" {
		s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", map[string]string{
			"otherPartyId": "otherPartyId is required",
		}))
		return
	}
	otherKind := rbac.DefaultCounterpart(caller.Kind)
	if strings.TrimSpace(body.OtherPartyType) != "" {
		kind, ok := rbac.ParseKind(body.OtherPartyType)
		if !ok {
			s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", map[string]string{
				"otherPartyType": "otherPartyType must be one of Educator, Admin, Student",
			}))
			return
		}
		otherKind = kind
	}

	conv, err := s.deps.Chat.GetOrCreateConversation(r.Context(), caller, store.Participant{UserID: body.OtherPartyID, Kind: otherKind})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, conv)
}

func (s *HTTPServer) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Chat.ListConversations(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, convs)
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", store.DefaultPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.deps.Chat.ListMessages(r.Context(), chi.URLParam(r, "conversationID"), identityFrom(r).UserID, page, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReceiverID   string             `json:"receiverId"`
		ReceiverType string             `json:"receiverType"`
		Content      string             `json:"content"`
		MessageType  string             `json:"messageType"`
		Attachments  []store.Attachment `json:"attachments"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.deps.Chat.SendMessage(r.Context(), chat.SendInput{
		ConversationID: chi.URLParam(r, "conversationID"),
		Sender:         callerOf(r),
		Receiver:       store.Participant{UserID: body.ReceiverID, Kind: rbac.Kind(body.ReceiverType)},
		Content:        body.Content,
		MessageType:    body.MessageType,
		Attachments:    body.Attachments,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, msg)
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deps.Chat.MarkAsRead(r.Context(), chi.URLParam(r, "messageID"), identityFrom(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, msg)
}

func (s *HTTPServer) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Chat.MarkConversationRead(r.Context(), chi.URLParam(r, "conversationID"), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Active == nil {
		s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", map[string]string{
			"active": "active is required",
		}))
		return
	}
	conv, err := s.deps.Chat.SetConversationActive(r.Context(), chi.URLParam(r, "conversationID"), identityFrom(r).UserID, *body.Active)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, conv)
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Chat.UnreadCount(r.Context(), callerOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unreadCount": count})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		s.fail(w, r, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", map[string]string{
			"q": "q is required",
		}))
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if s.deps.Search == nil {
		writeData(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: text})
		return
	}
	writeData(w, http.StatusOK, s.deps.Search.Search(search.Query{Text: text, Participant: callerOf(r), Limit: limit}))
}

func (s *HTTPServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	online := false
	if s.deps.Presence != nil {
		online = s.deps.Presence.IsOnline(r.Context(), userID)
	}
	writeData(w, http.StatusOK, map[string]any{"userId": userID, "online": online})
}
