package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/platform/logger"
)

const DefaultRedisChannel = "listsync.events"

// RedisBus carries every list event on one pub/sub channel.
type RedisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if log == nil {
		log = logger.Nop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		log:     log.With("component", "redis-relay"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev contracts.ListEvent) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis relay not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(ev contracts.ListEvent)) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis relay not initialized")
	}
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
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
				if ev, ok := b.decode(m.Payload); ok {
					onMsg(ev)
				}
			}
		}
	}()
	return nil
}

func (b *RedisBus) decode(payload string) (contracts.ListEvent, bool) {
	var ev contracts.ListEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		relayErrors.WithLabelValues("decode").Inc()
		b.log.Warn("bad redis relay payload", "error", err)
		return contracts.ListEvent{}, false
	}
	if ev.ListID == "" || ev.Event.Kind == "" {
		relayErrors.WithLabelValues("decode").Inc()
		b.log.Warn("incomplete redis relay payload", "list_id", ev.ListID)
		return contracts.ListEvent{}, false
	}
	relayMessages.WithLabelValues("received").Inc()
	return ev, true
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
