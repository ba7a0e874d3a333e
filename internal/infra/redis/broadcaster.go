package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
)

// Broadcaster fans session notifications out over Redis pub/sub, one channel
// per session, so connections on different processes stay in sync.
type Broadcaster struct {
	client *redis.Client
}

func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

func (b *Broadcaster) channel(sessionID string) string {
	return "quiz:events:" + sessionID
}

func (b *Broadcaster) Publish(ctx context.Context, sessionID string, env app.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(sessionID), data).Err(); err != nil {
		return fmt.Errorf("publish session update: %w", err)
	}
	return nil
}

// Subscribe attaches to the session channel. The returned cancel releases
// the Redis subscription and closes the envelope channel.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan app.Envelope, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(sessionID))
	// Force the subscription onto the wire before the caller relies on it.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe session channel: %w", err)
	}

	out := make(chan app.Envelope, 8)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var env app.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Error("malformed broadcast envelope", "session_id", sessionID, "err", err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return out, cancel, nil
}
