package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"walletbridge/internal/domain"
)

// PubSub is the slice of a Redis client the Redis transport needs.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a stream of payloads that is closed once cancel is
	// called.
	Subscribe(ctx context.Context, channel string) (msgs <-chan []byte, cancel func() error, err error)
}

type goRedisPubSub struct {
	client redis.UniversalClient
}

// NewGoRedisPubSub adapts a go-redis client.
func NewGoRedisPubSub(client redis.UniversalClient) PubSub {
	return &goRedisPubSub{client: client}
}

func (g *goRedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return g.client.Publish(ctx, channel, payload).Err()
}

func (g *goRedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	sub := g.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no post made after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, sub.Close, nil
}

// Redis is a transport over one Redis pub/sub channel. Every process
// subscribed to the channel, including the poster, receives every post.
type Redis struct {
	pubsub    PubSub
	channel   string
	listeners *registry
	cancel    func() error
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedis subscribes to channel and starts relaying messages to listeners.
func NewRedis(ctx context.Context, ps PubSub, channel string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	msgs, cancel, err := ps.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	r := &Redis{
		pubsub:    ps,
		channel:   channel,
		listeners: newRegistry(logger),
		cancel:    cancel,
		logger:    logger.With("redis_channel", channel),
		done:      make(chan struct{}),
	}
	go r.receive(msgs)
	return r, nil
}

func (r *Redis) receive(msgs <-chan []byte) {
	for payload := range msgs {
		r.listeners.fanout(payload)
	}
	r.logger.Debug("redis subscription ended")
}

// AddListener implements Transport.
func (r *Redis) AddListener(h Handler) func() { return r.listeners.add(h) }

// Post implements Transport.
func (r *Redis) Post(ctx context.Context, payload []byte) error {
	select {
	case <-r.done:
		return domain.ErrChannelClosed
	default:
	}
	if err := r.pubsub.Publish(ctx, r.channel, payload); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close unsubscribes and stops listeners.
func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.cancel()
		r.listeners.close()
	})
	return err
}

var _ Transport = (*Redis)(nil)
