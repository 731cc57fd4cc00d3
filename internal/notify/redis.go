package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	appLog "calgrid/internal/log"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "calgrid:notifications"

// Redis publishes notifications as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis connects lazily to a Redis server. url accepts either a
// redis:// URL or a bare host:port.
func NewRedis(url, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: redis.NewClient(opts), channel: channel}, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Notify(ctx context.Context, n Notification) error {
	payload, err := encode(n)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	appLog.Debug("notification published", "channel", r.channel, "commit_id", n.CommitID)
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func encode(n Notification) ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return b, nil
}
