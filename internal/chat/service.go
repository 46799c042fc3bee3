// Package chat is the delivery engine: it owns conversation get-or-create,
// message persistence, read state and best-effort live fan-out.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"classchat/api/internal/metrics"
	"classchat/api/internal/presence"
	"classchat/api/internal/rbac"
	"classchat/api/internal/store"
	"classchat/api/internal/util"
)

type dataStore interface {
	FindConversationByParticipants(context.Context, store.Participant, store.Participant) (store.Conversation, error)
	CreateConversation(context.Context, store.Conversation) (store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	ListConversationsForUser(context.Context, store.Participant) ([]store.Conversation, error)
	TouchLastMessage(context.Context, string, string, time.Time) error
	SetConversationActive(context.Context, string, bool) error
	InsertMessage(context.Context, store.Message) (store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	ListMessages(context.Context, string, int, int) (store.MessagePage, error)
	MarkMessageRead(context.Context, string, time.Time) (store.Message, error)
	MarkConversationRead(context.Context, string, string, time.Time) (int64, error)
	UnreadCount(context.Context, store.Participant) (int, error)
	ConversationUnreadCount(context.Context, string, string) (int, error)
}

// ProfileLookup resolves the public display record of a participant.
type ProfileLookup interface {
	LookupProfile(context.Context, store.Participant) (store.Profile, error)
}

// Presence is the read side of the presence registry.
type Presence interface {
	Lookup(userID string) (presence.Handle, bool)
}

// Indexer receives persisted messages for search. Implementations must not
// block the caller.
type Indexer interface {
	IndexMessage(store.Message)
}

// AttachmentSigner turns stored attachment references into fetchable URLs.
type AttachmentSigner interface {
	SignAttachments(context.Context, []store.Attachment) []store.Attachment
}

type Options struct {
	Profiles ProfileLookup
	Presence Presence
	Indexer  Indexer
	Signer   AttachmentSigner
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

type Service struct {
	store    dataStore
	profiles ProfileLookup
	presence Presence
	indexer  Indexer
	signer   AttachmentSigner
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	creating singleflight.Group
}

func NewService(dataStore dataStore, opts Options) *Service {
	s := &Service{
		store:    dataStore,
		profiles: opts.Profiles,
		presence: opts.Presence,
		indexer:  opts.Indexer,
		signer:   opts.Signer,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// GetOrCreateConversation returns the single conversation for the unordered
// pair, creating it on first use.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b store.Participant) (ConversationView, error) {
	a, okA := validParticipant(a)
	b, okB := validParticipant(b)
	if !okA || !okB {
		return ConversationView{}, validationError("both participants need an id and a known user type", nil)
	}
	if a.UserID == b.UserID {
		return ConversationView{}, validationError("cannot start a conversation with yourself", map[string]string{"otherPartyId": "must differ from the caller"})
	}

	conv, err := s.store.FindConversationByParticipants(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = s.createConversation(ctx, a, b)
	}
	if err != nil {
		return ConversationView{}, fmt.Errorf("get or create conversation: %w", err)
	}
	profiles := newProfileCache(s.profiles)
	return s.conversationView(ctx, conv, profiles, nil), nil
}

// createConversation collapses concurrent creates for one pair in this
// process. A duplicate from storage means another process won, so the
// winner is re-read.
func (s *Service) createConversation(ctx context.Context, a, b store.Participant) (store.Conversation, error) {
	result, err, _ := s.creating.Do(store.PairKey(a, b), func() (any, error) {
		existing, err := s.store.FindConversationByParticipants(ctx, a, b)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		created, err := s.store.CreateConversation(ctx, store.Conversation{
			ID:               util.NewID("conv"),
			Participants:     [2]store.Participant{a, b},
			ConversationType: rbac.ConversationType(a.Kind, b.Kind),
			IsActive:         true,
		})
		if errors.Is(err, store.ErrDuplicateConversation) {
			s.log.Debug("conversation created concurrently, re-reading", zap.String("pair", store.PairKey(a, b)))
			return s.store.FindConversationByParticipants(ctx, a, b)
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("conversation created",
			zap.String("conversation_id", created.ID),
			zap.String("type", created.ConversationType),
		)
		return created, nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return result.(store.Conversation), nil
}

// SendMessage persists a message and then tries to push it to the receiver.
// The returned error only ever reflects validation or storage.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (MessageView, error) {
	if err := in.Validate(); err != nil {
		return MessageView{}, err
	}
	sender, ok := validParticipant(in.Sender)
	if !ok {
		return MessageView{}, validationError("sender identity is incomplete", nil)
	}
	if !rbac.Can(sender.Kind, rbac.ActionSend) {
		return MessageView{}, forbidden(fmt.Sprintf("%s users cannot send messages", sender.Kind))
	}
	receiver := in.Receiver
	if !rbac.Can(receiver.Kind, rbac.ActionReceive) {
		return MessageView{}, forbidden(fmt.Sprintf("%s users cannot receive messages", receiver.Kind))
	}

	conv, err := s.conversationFor(ctx, in.ConversationID, sender.UserID)
	if err != nil {
		return MessageView{}, err
	}
	if !conv.Matches(sender, receiver) {
		return MessageView{}, validationError("receiver is not the other participant of this conversation", map[string]string{"receiverId": "does not match the conversation"})
	}

	msg, err := s.store.InsertMessage(ctx, store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conv.ID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        in.Content,
		MessageType:    in.MessageType,
		Attachments:    in.Attachments,
	})
	if err != nil {
		return MessageView{}, fmt.Errorf("send message: %w", err)
	}
	s.metrics.ObservePersisted()

	if err := s.store.TouchLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		s.log.Warn("touch last message failed",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	if s.indexer != nil {
		s.indexer.IndexMessage(msg)
	}

	view := s.messageView(ctx, msg, newProfileCache(s.profiles))
	s.push(receiver.UserID, EventNewMessage, view)
	s.pushUnreadCount(ctx, receiver)
	return view, nil
}

// MarkAsRead marks one message read on behalf of its receiver and sends a
// receipt to the sender the first time it transitions.
func (s *Service) MarkAsRead(ctx context.Context, messageID, requesterID string) (MessageView, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return MessageView{}, notFound("message not found")
	}
	if err != nil {
		return MessageView{}, fmt.Errorf("mark as read: %w", err)
	}
	if msg.Receiver.UserID != requesterID {
		return MessageView{}, forbidden("only the receiver can mark a message as read")
	}

	wasRead := msg.IsRead
	if !wasRead {
		msg, err = s.store.MarkMessageRead(ctx, messageID, s.now())
		if err != nil {
			return MessageView{}, fmt.Errorf("mark as read: %w", err)
		}
	}

	if !wasRead && msg.ReadAt != nil {
		s.push(msg.Sender.UserID, EventMessageRead, ReadReceipt{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReadBy:         requesterID,
			ReadAt:         *msg.ReadAt,
		})
	}
	return s.messageView(ctx, msg, newProfileCache(s.profiles)), nil
}

// MarkConversationRead marks every unread message addressed to reader in
// the conversation. Messages the reader sent are left alone.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID string, reader store.Participant) (ConversationReadResult, error) {
	conv, err := s.conversationFor(ctx, conversationID, reader.UserID)
	if err != nil {
		return ConversationReadResult{}, err
	}
	marked, err := s.store.MarkConversationRead(ctx, conv.ID, reader.UserID, s.now())
	if err != nil {
		return ConversationReadResult{}, fmt.Errorf("mark conversation read: %w", err)
	}
	unread, err := s.store.UnreadCount(ctx, reader)
	if err != nil {
		return ConversationReadResult{}, fmt.Errorf("mark conversation read: %w", err)
	}
	return ConversationReadResult{ConversationID: conv.ID, MarkedCount: marked, UpdatedUnreadCount: unread}, nil
}

func (s *Service) UnreadCount(ctx context.Context, user store.Participant) (int, error) {
	count, err := s.store.UnreadCount(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// ListConversations returns the user's conversations, most recently active
// first, each with the user's unread count for it.
func (s *Service) ListConversations(ctx context.Context, user store.Participant) ([]ConversationView, error) {
	convs, err := s.store.ListConversationsForUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	profiles := newProfileCache(s.profiles)
	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		unread, err := s.store.ConversationUnreadCount(ctx, conv.ID, user.UserID)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		views = append(views, s.conversationView(ctx, conv, profiles, &unread))
	}
	return views, nil
}

func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, page, pageSize int) (MessagePageView, error) {
	conv, err := s.conversationFor(ctx, conversationID, requesterID)
	if err != nil {
		return MessagePageView{}, err
	}
	result, err := s.store.ListMessages(ctx, conv.ID, page, pageSize)
	if err != nil {
		return MessagePageView{}, fmt.Errorf("list messages: %w", err)
	}
	profiles := newProfileCache(s.profiles)
	views := make([]MessageView, 0, len(result.Messages))
	for _, msg := range result.Messages {
		views = append(views, s.messageView(ctx, msg, profiles))
	}
	return MessagePageView{Messages: views, Pagination: result.Pagination}, nil
}

// SetConversationActive archives or restores a conversation for both
// participants.
func (s *Service) SetConversationActive(ctx context.Context, conversationID, requesterID string, active bool) (ConversationView, error) {
	conv, err := s.conversationFor(ctx, conversationID, requesterID)
	if err != nil {
		return ConversationView{}, err
	}
	if err := s.store.SetConversationActive(ctx, conv.ID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ConversationView{}, notFound("conversation not found")
		}
		return ConversationView{}, fmt.Errorf("set conversation active: %w", err)
	}
	conv.IsActive = active
	return s.conversationView(ctx, conv, newProfileCache(s.profiles), nil), nil
}

// EmitTyping forwards a typing indicator to the receiver if reachable.
// Nothing is stored.
func (s *Service) EmitTyping(sender store.Participant, receiverID, conversationID string, isTyping bool) {
	s.push(receiverID, EventTyping, TypingEvent{
		ConversationID: conversationID,
		UserID:         sender.UserID,
		UserType:       sender.Kind,
		IsTyping:       isTyping,
	})
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.conversationFor(ctx, conversationID, userID)
	if IsKind(err, KindForbidden) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) conversationFor(ctx context.Context, conversationID, userID string) (store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, notFound("conversation not found")
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.Includes(userID) {
		return store.Conversation{}, forbidden("you are not a participant of this conversation")
	}
	return conv, nil
}

func (s *Service) pushUnreadCount(ctx context.Context, user store.Participant) {
	if s.presence == nil {
		return
	}
	if _, ok := s.presence.Lookup(user.UserID); !ok {
		return
	}
	count, err := s.store.UnreadCount(ctx, user)
	if err != nil {
		s.log.Warn("unread count for push failed", zap.String("user_id", user.UserID), zap.Error(err))
		return
	}
	s.push(user.UserID, EventUnreadCount, UnreadCountEvent{Count: count})
}

// push is best effort. Misses and transport failures are logged and
// counted, never returned.
func (s *Service) push(userID, event string, data any) {
	err := s.deliver(userID, event, data)
	switch {
	case err == nil:
		s.metrics.ObservePush(event, metrics.OutcomeDelivered)
	case errors.Is(err, ErrDeliveryUnavailable):
		s.metrics.ObservePush(event, metrics.OutcomeOffline)
		s.log.Debug("live push skipped", zap.String("event", event), zap.String("user_id", userID), zap.Error(err))
	default:
		s.metrics.ObservePush(event, metrics.OutcomeFailed)
		s.log.Warn("live push failed", zap.String("event", event), zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) deliver(userID, event string, data any) error {
	if s.presence == nil {
		return fmt.Errorf("%w: no live transport", ErrDeliveryUnavailable)
	}
	handle, ok := s.presence.Lookup(userID)
	if !ok {
		return fmt.Errorf("%w: user offline", ErrDeliveryUnavailable)
	}
	return handle.Push(event, data)
}
