package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"classchat/api/internal/auth"
	"classchat/api/internal/chat"
	"classchat/api/internal/presence"
	"classchat/api/internal/rbac"
	"classchat/api/internal/store"
)

var secret = []byte("gateway-secret")

// fakeEngine delivers new_message through the same registry the gateway
// registers connections in.
type fakeEngine struct {
	mu       sync.Mutex
	registry *presence.Registry
	sent     []chat.SendInput
	unread   int
	readBy   []string
}

func (f *fakeEngine) SendMessage(_ context.Context, in chat.SendInput) (chat.MessageView, error) {
	f.mu.Lock()
	f.sent = append(f.sent, in)
	f.unread++
	f.mu.Unlock()
	msg := chat.MessageView{
		ID:             "msg_1",
		ConversationID: in.ConversationID,
		Sender:         chat.ParticipantView{UserID: in.Sender.UserID, UserType: in.Sender.Kind},
		Receiver:       chat.ParticipantView{UserID: in.Receiver.UserID, UserType: in.Receiver.Kind},
		Content:        in.Content,
		MessageType:    in.MessageType,
		Attachments:    []store.Attachment{},
	}
	if h, ok := f.registry.Lookup(in.Receiver.UserID); ok {
		_ = h.Push(chat.EventNewMessage, msg)
	}
	return msg, nil
}

func (f *fakeEngine) MarkAsRead(_ context.Context, messageID, requesterID string) (chat.MessageView, error) {
	if messageID == "msg_missing" {
		return chat.MessageView{}, &chat.Error{Kind: chat.KindNotFound, Message: "message not found"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readBy = append(f.readBy, requesterID)
	f.unread--
	return chat.MessageView{ID: messageID, IsRead: true}, nil
}

func (f *fakeEngine) MarkConversationRead(_ context.Context, conversationID string, _ store.Participant) (chat.ConversationReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = 0
	return chat.ConversationReadResult{ConversationID: conversationID}, nil
}

func (f *fakeEngine) UnreadCount(context.Context, store.Participant) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeEngine) EmitTyping(sender store.Participant, receiverID, conversationID string, isTyping bool) {
	if h, ok := f.registry.Lookup(receiverID); ok {
		_ = h.Push(chat.EventTyping, chat.TypingEvent{ConversationID: conversationID, UserID: sender.UserID, UserType: sender.Kind, IsTyping: isTyping})
	}
}

type testEnv struct {
	server   *httptest.Server
	gateway  *Gateway
	registry *presence.Registry
	engine   *fakeEngine
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	registry := presence.NewRegistry()
	engine := &fakeEngine{registry: registry}
	opts.TokenSecret = secret
	gw := New(engine, presence.NewTracker(registry, nil, nil), opts)
	server := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Close(ctx)
		server.Close()
	})
	return &testEnv{server: server, gateway: gw, registry: registry, engine: engine}
}

type client struct {
	t    *testing.T
	conn net.Conn
	rw   io.ReadWriter
}

func (e *testEnv) dial(t *testing.T, userID string, kind rbac.Kind) *client {
	t.Helper()
	token, err := auth.IssueToken(secret, auth.NewClaims(userID, kind, time.Hour))
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn, rw: conn}
	if br != nil {
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	ev := c.next()
	require.Equal(t, chat.EventConnected, ev.Event)
	return c
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	frame, err := json.Marshal(envelope{Event: event, Data: raw})
	require.NoError(c.t, err)
	require.NoError(c.t, wsutil.WriteClientMessage(c.conn, ws.OpText, frame))
}

func (c *client) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, wsutil.WriteClientMessage(c.conn, ws.OpText, []byte(frame)))
}

func (c *client) next() envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := wsutil.ReadServerText(c.rw)
	require.NoError(c.t, err)
	var ev envelope
	require.NoError(c.t, json.Unmarshal(payload, &ev))
	return ev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, err := http.Get(env.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRegistersAndDisconnectReleasesPresence(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial(t, "adm-1", rbac.KindAdmin)

	_, ok := env.registry.Lookup("adm-1")
	require.True(t, ok)

	require.NoError(t, c.conn.Close())
	waitFor(t, func() bool {
		_, ok := env.registry.Lookup("adm-1")
		return !ok
	})
}

func TestSendMessageDeliversAndAcknowledges(t *testing.T) {
	env := newTestEnv(t, Options{})
	receiver := env.dial(t, "adm-1", rbac.KindAdmin)
	sender := env.dial(t, "edu-1", rbac.KindEducator)

	sender.send(chat.EventSendMessage, map[string]any{
		"conversationId": "conv_1",
		"receiverId":     "adm-1",
		"receiverType":   "Admin",
		"content":        "Hello",
	})

	incoming := receiver.next()
	require.Equal(t, chat.EventNewMessage, incoming.Event)
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(incoming.Data, &msg))
	require.Equal(t, "Hello", msg.Content)
	require.Equal(t, "edu-1", msg.Sender.UserID)

	ack := sender.next()
	require.Equal(t, chat.EventMessageSent, ack.Event)
}

func TestInvalidSendEmitsErrorAndKeepsConnection(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.dial(t, "edu-1", rbac.KindEducator)

	c.send(chat.EventSendMessage, map[string]any{
		"conversationId": "conv_1",
		"receiverId":     "adm-1",
		"receiverType":   "Admin",
		"content":        strings.Repeat("x", chat.MaxContentLength+1),
	})
	ev := c.next()
	require.Equal(t, chat.EventError, ev.Event)
	var payload chat.ErrorEvent
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Equal(t, "validation", payload.Code)
	require.Contains(t, payload.Fields, "content")

	env.engine.mu.Lock()
	require.Empty(t, env.engine.sent)
	env.engine.mu.Unlock()

	c.sendRaw("not json")
	require.Equal(t, chat.EventError, c.next().Event)

	c.send(chat.EventGetUnreadCount, map[string]any{})
	require.Equal(t, chat.EventUnreadCount, c.next().Event)
}

func TestTypingIsForwarded(t *testing.T) {
	env := newTestEnv(t, Options{})
	receiver := env.dial(t, "adm-1", rbac.KindAdmin)
	sender := env.dial(t, "edu-1", rbac.KindEducator)

	sender.send(chat.EventTyping, map[string]any{"conversationId": "conv_1", "receiverId": "adm-1"})
	ev := receiver.next()
	require.Equal(t, chat.EventTyping, ev.Event)
	var typing chat.TypingEvent
	require.NoError(t, json.Unmarshal(ev.Data, &typing))
	require.True(t, typing.IsTyping)

	sender.send(chat.EventStopTyping, map[string]any{"conversationId": "conv_1", "receiverId": "adm-1"})
	require.NoError(t, json.Unmarshal(receiver.next().Data, &typing))
	require.False(t, typing.IsTyping)
}

func TestMarkReadRepliesWithUnreadCount(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.engine.unread = 3
	c := env.dial(t, "adm-1", rbac.KindAdmin)

	c.send(chat.EventMarkRead, map[string]any{"messageId": "msg_1"})
	ev := c.next()
	require.Equal(t, chat.EventUnreadCount, ev.Event)
	var count chat.UnreadCountEvent
	require.NoError(t, json.Unmarshal(ev.Data, &count))
	require.Equal(t, 2, count.Count)

	c.send(chat.EventMarkRead, map[string]any{"messageId": "msg_missing"})
	require.Equal(t, chat.EventError, c.next().Event)

	c.send(chat.EventMarkAllRead, map[string]any{"conversationId": "conv_1"})
	require.NoError(t, json.Unmarshal(c.next().Data, &count))
	require.Equal(t, 0, count.Count)
}

func TestRateLimitedEventsGetErrors(t *testing.T) {
	env := newTestEnv(t, Options{EventsPerSecond: 1, EventBurst: 1})
	c := env.dial(t, "adm-1", rbac.KindAdmin)

	c.send(chat.EventGetUnreadCount, map[string]any{})
	require.Equal(t, chat.EventUnreadCount, c.next().Event)

	c.send(chat.EventGetUnreadCount, map[string]any{})
	ev := c.next()
	require.Equal(t, chat.EventError, ev.Event)
	var payload chat.ErrorEvent
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Equal(t, "rate limit exceeded", payload.Message)
}

func TestReconnectReplacesPresence(t *testing.T) {
	env := newTestEnv(t, Options{})
	first := env.dial(t, "adm-1", rbac.KindAdmin)
	firstHandle, _ := env.registry.Lookup("adm-1")
	env.dial(t, "adm-1", rbac.KindAdmin)

	current, ok := env.registry.Lookup("adm-1")
	require.True(t, ok)
	require.NotEqual(t, firstHandle.ID(), current.ID())

	require.NoError(t, first.conn.Close())
	time.Sleep(50 * time.Millisecond)
	still, ok := env.registry.Lookup("adm-1")
	require.True(t, ok)
	require.Equal(t, current.ID(), still.ID())
}
