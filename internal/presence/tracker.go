package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const mirrorTimeout = 2 * time.Second

// Mirror is an optional cross-process view of who is online.
type Mirror interface {
	MarkOnline(ctx context.Context, userID, connID string) error
	MarkOffline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Tracker pairs the in-process registry with an optional mirror. Mirror
// failures are logged and never block registry updates.
type Tracker struct {
	registry *Registry
	mirror   Mirror
	log      *zap.Logger
}

func NewTracker(registry *Registry, mirror Mirror, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{registry: registry, mirror: mirror, log: log}
}

func (t *Tracker) Registry() *Registry {
	return t.registry
}

func (t *Tracker) Connect(userID string, h Handle) {
	if previous, replaced := t.registry.Register(userID, h); replaced {
		t.log.Debug("presence replaced",
			zap.String("user_id", userID),
			zap.String("previous_conn", previous.ID()),
			zap.String("conn", h.ID()),
		)
	}
	t.markOnline(userID, h)
}

// Refresh extends the mirror TTL while the connection is active.
func (t *Tracker) Refresh(userID string, h Handle) {
	if current, ok := t.registry.Lookup(userID); !ok || current.ID() != h.ID() {
		return
	}
	t.markOnline(userID, h)
}

// Disconnect drops the user's entry if h is still the registered handle.
func (t *Tracker) Disconnect(userID string, h Handle) bool {
	released := t.registry.Release(userID, h)
	if t.mirror == nil || !released {
		return released
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := t.mirror.MarkOffline(ctx, userID, h.ID()); err != nil {
		t.log.Warn("presence mirror offline failed", zap.String("user_id", userID), zap.Error(err))
	}
	return released
}

// IsOnline answers from the local registry first, then the mirror.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	if _, ok := t.registry.Lookup(userID); ok {
		return true
	}
	if t.mirror == nil {
		return false
	}
	online, err := t.mirror.IsOnline(ctx, userID)
	if err != nil {
		t.log.Warn("presence mirror lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}

func (t *Tracker) markOnline(userID string, h Handle) {
	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := t.mirror.MarkOnline(ctx, userID, h.ID()); err != nil {
		t.log.Warn("presence mirror online failed", zap.String("user_id", userID), zap.Error(err))
	}
}
