package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
)

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string

	// origin is this instance's id. Events this bus published carry it,
	// and the forwarder drops them: the local hub already broadcast them.
	origin string
}

// NewRedisBus connects to REDIS_ADDR and mirrors inbox SSE events on
// REDIS_CHANNEL. origin must match the id the emitter stamps on
// locally produced events.
func NewRedisBus(log *logger.Logger, origin string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisSSEBus"),
		rdb:     rdb,
		channel: envutil.String("REDIS_CHANNEL", "inbox-sse"),
		origin:  origin,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.SSEMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis SSE bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the mirror channel and hands every event
// from another instance to onMsg (normally the hub's Broadcast). Events
// stamped with this bus's own origin are dropped.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis SSE bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go b.forward(ctx, sub, onMsg)
	return nil
}

func (b *redisBus) forward(ctx context.Context, sub *goredis.PubSub, onMsg func(m realtime.SSEMessage)) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			msg, forward := b.decodeForward([]byte(m.Payload))
			if forward {
				onMsg(msg)
			}
		}
	}
}

func (b *redisBus) decodeForward(payload []byte) (realtime.SSEMessage, bool) {
	var msg realtime.SSEMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warn("bad redis SSE payload", "error", err)
		return realtime.SSEMessage{}, false
	}
	if msg.Origin != "" && msg.Origin == b.origin {
		return realtime.SSEMessage{}, false
	}
	return msg, true
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
