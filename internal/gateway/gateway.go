// Package gateway is the websocket endpoint for live chat. Each connection
// is bound to one authenticated user and registered for presence while it
// is open.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"classchat/api/internal/auth"
	"classchat/api/internal/chat"
	"classchat/api/internal/metrics"
	"classchat/api/internal/presence"
	"classchat/api/internal/store"
	"classchat/api/internal/util"
)

const eventTimeout = 10 * time.Second

type Engine interface {
	SendMessage(context.Context, chat.SendInput) (chat.MessageView, error)
	MarkAsRead(context.Context, string, string) (chat.MessageView, error)
	MarkConversationRead(context.Context, string, store.Participant) (chat.ConversationReadResult, error)
	UnreadCount(context.Context, store.Participant) (int, error)
	EmitTyping(store.Participant, string, string, bool)
}

type Options struct {
	TokenSecret     []byte
	EventsPerSecond int
	EventBurst      int
	WriteTimeout    time.Duration
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

type Gateway struct {
	engine  Engine
	tracker *presence.Tracker
	opts    Options
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*connection]struct{}
	wg    sync.WaitGroup
}

func New(engine Engine, tracker *presence.Tracker, opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 20
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = opts.EventsPerSecond * 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		engine:  engine,
		tracker: tracker,
		opts:    opts,
		log:     opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*connection]struct{}),
	}
}

// ServeHTTP authenticates the request, upgrades it and runs the connection
// until the client goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.Authenticate(g.opts.TokenSecret, requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		id:           util.NewID("ws"),
		identity:     identity,
		conn:         netConn,
		writeTimeout: g.opts.WriteTimeout,
	}
	if !g.track(c) {
		_ = netConn.Close()
		return
	}
	defer g.untrack(c)
	g.serve(c)
}

func requestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func (g *Gateway) serve(c *connection) {
	userID := c.identity.UserID
	log := g.log.With(zap.String("conn", c.id), zap.String("user_id", userID))

	g.tracker.Connect(userID, c)
	g.opts.Metrics.ConnectionOpened()
	log.Info("live connection opened", zap.String("user_type", string(c.identity.Kind)))

	defer func() {
		// Presence goes first so later sends treat the user as offline.
		g.tracker.Disconnect(userID, c)
		g.opts.Metrics.ConnectionClosed()
		_ = c.conn.Close()
		log.Info("live connection closed")
	}()

	if err := c.Push(chat.EventConnected, chat.ConnectedEvent{UserID: userID, UserType: c.identity.Kind}); err != nil {
		log.Debug("connected event failed", zap.Error(err))
		return
	}

	limiter := rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), g.opts.EventBurst)
	for {
		payload, _, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			g.replyError(c, &chat.Error{Kind: chat.KindValidation, Message: "rate limit exceeded"})
			continue
		}
		g.tracker.Refresh(userID, c)
		g.dispatch(c, payload)
	}
}

func (g *Gateway) track(c *connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *connection) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	g.wg.Done()
}

// Close disconnects every live connection and waits for their handlers to
// unregister presence.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.cancel()
	for c := range g.conns {
		_ = c.conn.Close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) replyError(c *connection, err error) {
	if pushErr := c.Push(chat.EventError, chat.ErrorEventFor(err)); pushErr != nil {
		g.log.Debug("error event failed", zap.String("conn", c.id), zap.Error(pushErr))
	}
}

func (g *Gateway) pushUnreadCount(ctx context.Context, c *connection) error {
	count, err := g.engine.UnreadCount(ctx, c.participant())
	if err != nil {
		return err
	}
	return c.Push(chat.EventUnreadCount, chat.UnreadCountEvent{Count: count})
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &chat.Error{Kind: chat.KindValidation, Message: "malformed event payload"}
	}
	return nil
}
