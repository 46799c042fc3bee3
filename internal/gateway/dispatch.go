package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"classchat/api/internal/chat"
	"classchat/api/internal/rbac"
	"classchat/api/internal/store"
)

type sendMessagePayload struct {
	ConversationID string             `json:"conversationId"`
	ReceiverID     string             `json:"receiverId"`
	ReceiverType   string             `json:"receiverType"`
	Content        string             `json:"content"`
	MessageType    string             `json:"messageType"`
	Attachments    []store.Attachment `json:"attachments"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

type markReadPayload struct {
	MessageID string `json:"messageId"`
}

type markAllReadPayload struct {
	ConversationID string `json:"conversationId"`
}

func required(fields map[string]string) error {
	missing := map[string]string{}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing[name] = name + " is required"
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &chat.Error{Kind: chat.KindValidation, Message: "validation failed", Fields: missing}
}

// dispatch handles one inbound frame. Failures become error events and the
// connection stays open.
func (g *Gateway) dispatch(c *connection, frame []byte) {
	var in envelope
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		g.replyError(c, &chat.Error{Kind: chat.KindValidation, Message: "malformed event"})
		return
	}
	g.opts.Metrics.ObserveInbound(in.Event)

	ctx, cancel := context.WithTimeout(g.ctx, eventTimeout)
	defer cancel()

	var err error
	switch in.Event {
	case chat.EventSendMessage:
		err = g.handleSend(ctx, c, in.Data)
	case chat.EventTyping:
		err = g.handleTyping(c, in.Data, true)
	case chat.EventStopTyping:
		err = g.handleTyping(c, in.Data, false)
	case chat.EventMarkRead:
		err = g.handleMarkRead(ctx, c, in.Data)
	case chat.EventMarkAllRead:
		err = g.handleMarkAllRead(ctx, c, in.Data)
	case chat.EventGetUnreadCount:
		err = g.pushUnreadCount(ctx, c)
	default:
		err = &chat.Error{Kind: chat.KindValidation, Message: "unknown event " + in.Event}
	}
	if err == nil {
		return
	}
	var chatErr *chat.Error
	if !errors.As(err, &chatErr) {
		g.log.Error("live event failed", zap.String("event", in.Event), zap.String("conn", c.id), zap.Error(err))
	}
	g.replyError(c, err)
}

func (g *Gateway) handleSend(ctx context.Context, c *connection, raw json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	input := chat.SendInput{
		ConversationID: p.ConversationID,
		Sender:         c.participant(),
		Receiver:       store.Participant{UserID: p.ReceiverID, Kind: rbac.Kind(p.ReceiverType)},
		Content:        p.Content,
		MessageType:    p.MessageType,
		Attachments:    p.Attachments,
	}
	if err := input.Validate(); err != nil {
		return err
	}
	msg, err := g.engine.SendMessage(ctx, input)
	if err != nil {
		return err
	}
	return c.Push(chat.EventMessageSent, msg)
}

func (g *Gateway) handleTyping(c *connection, raw json.RawMessage, isTyping bool) error {
	var p typingPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := required(map[string]string{"conversationId": p.ConversationID, "receiverId": p.ReceiverID}); err != nil {
		return err
	}
	g.engine.EmitTyping(c.participant(), p.ReceiverID, p.ConversationID, isTyping)
	return nil
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *connection, raw json.RawMessage) error {
	var p markReadPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := required(map[string]string{"messageId": p.MessageID}); err != nil {
		return err
	}
	if _, err := g.engine.MarkAsRead(ctx, p.MessageID, c.identity.UserID); err != nil {
		return err
	}
	return g.pushUnreadCount(ctx, c)
}

func (g *Gateway) handleMarkAllRead(ctx context.Context, c *connection, raw json.RawMessage) error {
	var p markAllReadPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := required(map[string]string{"conversationId": p.ConversationID}); err != nil {
		return err
	}
	result, err := g.engine.MarkConversationRead(ctx, p.ConversationID, c.participant())
	if err != nil {
		return err
	}
	return c.Push(chat.EventUnreadCount, chat.UnreadCountEvent{Count: result.UpdatedUnreadCount})
}
