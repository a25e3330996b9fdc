package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// RedisStream publishes audit events on per-run Redis pub/sub channels so every
// replica can serve live subscribers.
type RedisStream struct {
	client *redis.Client
	prefix string
	depth  int
	logger *slog.Logger
}

var _ ports.EventStream = (*RedisStream)(nil)

// NewRedisStream wraps client; channels are named <prefix>:audit:<run id>.
func NewRedisStream(client *redis.Client, prefix string, depth int, logger *slog.Logger) *RedisStream {
	if prefix == "" {
		prefix = "discovery"
	}
	if depth <= 0 {
		depth = defaultDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{client: client, prefix: prefix, depth: depth, logger: logger}
}

func (s *RedisStream) channel(runID string) string {
	return s.prefix + ":audit:" + runID
}

// Publish encodes event as JSON and publishes it.
func (s *RedisStream) Publish(ctx context.Context, event domain.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(event.RunID), payload).Err(); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning.
func (s *RedisStream) Subscribe(ctx context.Context, runID string) (ports.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", runID, err)
	}

	sub := &redisSub{pubsub: pubsub, ch: make(chan domain.AuditEvent, s.depth), done: make(chan struct{})}
	go sub.pump(ctx, s.logger)
	return sub, nil
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan domain.AuditEvent
	done   chan struct{}
	once   sync.Once
}

func (r *redisSub) pump(ctx context.Context, logger *slog.Logger) {
	defer close(r.ch)
	msgs := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = r.Close()
			return
		case <-r.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev domain.AuditEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("decode audit event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case r.ch <- ev:
			case <-r.done:
				return
			default:
				logger.Debug("dropping audit event for slow subscriber", "run_id", ev.RunID, "seq", ev.Seq)
			}
		}
	}
}

func (r *redisSub) Events() <-chan domain.AuditEvent {
	return r.ch
}

func (r *redisSub) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.pubsub.Close()
	})
	return err
}
