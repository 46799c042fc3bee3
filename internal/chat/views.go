package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"classchat/api/internal/store"
)

// profileCache memoizes lookups for the lifetime of one call.
type profileCache struct {
	lookup ProfileLookup
	seen   map[string]*store.Profile
}

func newProfileCache(lookup ProfileLookup) *profileCache {
	return &profileCache{lookup: lookup, seen: make(map[string]*store.Profile)}
}

func (c *profileCache) get(ctx context.Context, p store.Participant, log *zap.Logger) *store.Profile {
	if c.lookup == nil {
		return nil
	}
	key := store.PairKey(p, p)
	if profile, ok := c.seen[key]; ok {
		return profile
	}
	profile, err := c.lookup.LookupProfile(ctx, p)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("profile lookup failed", zap.String("user_id", p.UserID), zap.Error(err))
		}
		c.seen[key] = nil
		return nil
	}
	c.seen[key] = &profile
	return &profile
}

func (s *Service) participantView(ctx context.Context, p store.Participant, profiles *profileCache) ParticipantView {
	view := ParticipantView{UserID: p.UserID, UserType: p.Kind}
	if profile := profiles.get(ctx, p, s.log); profile != nil {
		view.DisplayName = profile.DisplayName
		view.Contact = profile.Contact
		view.AvatarURL = profile.AvatarURL
	}
	return view
}

func (s *Service) messageView(ctx context.Context, msg store.Message, profiles *profileCache) MessageView {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []store.Attachment{}
	}
	if s.signer != nil && len(attachments) > 0 {
		attachments = s.signer.SignAttachments(ctx, attachments)
	}
	return MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         s.participantView(ctx, msg.Sender, profiles),
		Receiver:       s.participantView(ctx, msg.Receiver, profiles),
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		Attachments:    attachments,
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
		EditedAt:       msg.EditedAt,
	}
}

func (s *Service) conversationView(ctx context.Context, conv store.Conversation, profiles *profileCache, unread *int) ConversationView {
	participants := make([]ParticipantView, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		participants = append(participants, s.participantView(ctx, p, profiles))
	}
	return ConversationView{
		ID:               conv.ID,
		Participants:     participants,
		ConversationType: conv.ConversationType,
		LastMessage:      conv.LastMessageID,
		LastMessageAt:    conv.LastMessageAt,
		IsActive:         conv.IsActive,
		UnreadCount:      unread,
		CreatedAt:        conv.CreatedAt,
		UpdatedAt:        conv.UpdatedAt,
	}
}
