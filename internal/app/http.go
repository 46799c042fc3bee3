package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"classchat/api/internal/auth"
	"classchat/api/internal/chat"
	"classchat/api/internal/search"
	"classchat/api/internal/store"
)

type chatService interface {
	GetOrCreateConversation(context.Context, store.Participant, store.Participant) (chat.ConversationView, error)
	ListConversations(context.Context, store.Participant) ([]chat.ConversationView, error)
	ListMessages(context.Context, string, string, int, int) (chat.MessagePageView, error)
	SendMessage(context.Context, chat.SendInput) (chat.MessageView, error)
	MarkAsRead(context.Context, string, string) (chat.MessageView, error)
	MarkConversationRead(context.Context, string, store.Participant) (chat.ConversationReadResult, error)
	SetConversationActive(context.Context, string, string, bool) (chat.ConversationView, error)
	UnreadCount(context.Context, store.Participant) (int, error)
}

type messageSearcher interface {
	Search(search.Query) search.Response
}

type presenceQuery interface {
	IsOnline(context.Context, string) bool
}

type Deps struct {
	Chat        chatService
	Search      messageSearcher
	Presence    presenceQuery
	Ready       func(context.Context) error
	Gateway     http.Handler
	Metrics     http.Handler
	TokenSecret []byte
	CORSOrigin  string
	Logger      *zap.Logger
}

type HTTPServer struct {
	deps Deps
	log  *zap.Logger
}

func NewHTTPServer(deps Deps) *HTTPServer {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{deps: deps, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(s.deps.CORSOrigin),
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Gateway != nil {
		r.Method(http.MethodGet, "/ws", s.deps.Gateway)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Post("/", s.handleGetOrCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Get("/{conversationID}/messages", s.handleListMessages)
			r.Post("/{conversationID}/messages", s.handleSendMessage)
			r.Patch("/{conversationID}/read", s.handleMarkConversationRead)
			r.Patch("/{conversationID}/archive", s.handleArchive)
		})
		r.Route("/api/messages", func(r chi.Router) {
			r.Get("/unread-count", s.handleUnreadCount)
			r.Get("/search", s.handleSearch)
			r.Patch("/{messageID}/read", s.handleMarkRead)
		})
		r.Get("/api/presence/{userID}", s.handlePresence)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func corsOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if s.deps.Ready != nil {
		if err := s.deps.Ready(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type identityKey struct{}

func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		identity, err := auth.Authenticate(s.deps.TokenSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

func identityFrom(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return identity
}

func callerOf(r *http.Request) store.Participant {
	identity := identityFrom(r)
	return store.Participant{UserID: identity.UserID, Kind: identity.Kind}
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

type requestIDKey struct{}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		response["errors"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		s.log.Error("request failed", zap.String("request_id", requestID), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", map[string]string{
			name: fmt.Sprintf("%s must be a positive integer", name),
		})
	}
	return value, nil
}
