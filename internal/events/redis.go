package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream key events are appended to.
const DefaultStream = "tcm:events"

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher appends envelopes to a Redis stream so indexers can
// consume them with XREAD or consumer groups.
type RedisPublisher struct {
	client streamAdder
	stream string
	maxLen int64
}

// RedisOptions configures NewRedisPublisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen approximately caps the stream length. Zero keeps everything.
	MaxLen int64
}

// NewRedisPublisher connects to Redis and returns a publisher with its
// client, which the caller closes on shutdown.
func NewRedisPublisher(opts RedisOptions) (*RedisPublisher, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisPublisher(rdb, opts.Stream, opts.MaxLen), rdb
}

func newRedisPublisher(client streamAdder, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends env as one stream entry.
func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	values := map[string]any{
		"id":       env.ID,
		"height":   env.Height,
		"kind":     string(env.Event.Kind),
		"line":     env.Event.Line,
		"received": env.Received.UnixMilli(),
	}
	if env.TxHash != "" {
		values["tx_hash"] = env.TxHash
	}
	for k, v := range env.Event.Attributes {
		values["attr."+k] = v
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", p.stream, err)
	}
	return nil
}
