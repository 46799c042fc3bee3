package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's
// connection id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisMirror publishes online markers so other processes can answer
// presence queries. It is never consulted for delivery.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(redisURL string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisMirrorWithClient(client, ttl), nil
}

func NewRedisMirrorWithClient(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisMirror{client: client, prefix: "presence:", ttl: ttl}
}

func (m *RedisMirror) key(userID string) string {
	return m.prefix + userID
}

// MarkOnline records connID as the user's connection and resets the TTL.
func (m *RedisMirror) MarkOnline(ctx context.Context, userID, connID string) error {
	if err := m.client.Set(ctx, m.key(userID), connID, m.ttl).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (m *RedisMirror) MarkOffline(ctx context.Context, userID, connID string) error {
	if err := releaseScript.Run(ctx, m.client, []string{m.key(userID)}, connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (m *RedisMirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check online: %w", err)
	}
	return n > 0, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
