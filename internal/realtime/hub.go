// Package realtime fans shopping-list changes out to the devices currently
// viewing a list.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/platform/logger"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSubscriberBuffer  = 32
)

// Timer is the part of *time.Timer the hub needs.
type Timer interface {
	Stop() bool
}

type Options struct {
	HeartbeatInterval time.Duration
	// SubscriberBuffer bounds the frames queued for one stream. A stream whose
	// queue is full when a frame is published is treated as disconnected.
	SubscriberBuffer int
	AfterFunc        func(d time.Duration, f func()) Timer
	Logger           *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.SubscriberBuffer < 2 {
		o.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Subscription is one open stream on a hub.
type Subscription struct {
	ID     uuid.UUID
	ListID string

	hub *Hub
	ch  chan contracts.WireEvent
	// closed is guarded by hub.mu.
	closed bool
}

// Events yields frames in publish order. The channel is closed when the
// subscription ends, either through Close or because the hub dropped it.
func (s *Subscription) Events() <-chan contracts.WireEvent {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub owns the live streams of a single list and its heartbeat timer. The
// subscriber set and the timer are only touched under mu.
type Hub struct {
	listID string
	opts   Options
	log    *logger.Logger
	onIdle func(*Hub)

	mu          sync.Mutex
	subscribers []*Subscription
	heartbeat   Timer
	// heartbeatGen invalidates timer callbacks that fire after a cancel.
	heartbeatGen uint64
}

// NewHub builds a standalone hub. Most callers go through Registry.
func NewHub(listID string, opts Options) *Hub {
	return newHub(listID, opts.withDefaults(), nil)
}

func newHub(listID string, opts Options, onIdle func(*Hub)) *Hub {
	return &Hub{
		listID: listID,
		opts:   opts,
		log:    opts.Logger.With("component", "hub", "list_id", listID),
		onIdle: onIdle,
	}
}

func (h *Hub) ListID() string { return h.listID }

// Subscribe registers a stream and queues the connected frame on it. The first
// subscriber starts the heartbeat.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		ListID: h.listID,
		hub:    h,
		ch:     make(chan contracts.WireEvent, h.opts.SubscriberBuffer),
	}
	sub.ch <- contracts.Connected

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	if len(h.subscribers) == 1 {
		h.scheduleHeartbeatLocked()
	}
	h.mu.Unlock()

	subscribersActive.Inc()
	framesDelivered.WithLabelValues(string(contracts.KindConnected)).Inc()
	h.log.Debug("stream subscribed", "subscriber_id", sub.ID)
	return sub
}

// Publish offers ev to every stream once without blocking. Streams that cannot
// take it are dropped; the others still get it.
func (h *Hub) Publish(ev contracts.WireEvent) {
	h.mu.Lock()
	delivered, dropped := h.publishLocked(ev)
	idle := len(h.subscribers) == 0
	h.mu.Unlock()

	h.afterPublish(ev, delivered, dropped, idle)
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) HeartbeatScheduled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heartbeat != nil
}

func (h *Hub) publishLocked(ev contracts.WireEvent) (int, []*Subscription) {
	var dropped []*Subscription
	kept := h.subscribers[:0]
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- ev:
			kept = append(kept, sub)
		default:
			sub.closed = true
			close(sub.ch)
			dropped = append(dropped, sub)
		}
	}
	clear(h.subscribers[len(kept):])
	h.subscribers = kept

	if len(dropped) > 0 && len(kept) == 0 {
		h.cancelHeartbeatLocked()
	}
	return len(kept), dropped
}

func (h *Hub) afterPublish(ev contracts.WireEvent, delivered int, dropped []*Subscription, idle bool) {
	if delivered > 0 {
		framesDelivered.WithLabelValues(string(ev.Kind)).Add(float64(delivered))
	}
	for _, sub := range dropped {
		subscribersActive.Dec()
		subscribersDropped.WithLabelValues("backpressure").Inc()
		h.log.Warn("dropping stream; outbound buffer full", "subscriber_id", sub.ID, "kind", ev.Kind)
	}
	if len(dropped) > 0 && idle && h.onIdle != nil {
		h.onIdle(h)
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if sub.closed {
		h.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.ch)
	for i, s := range h.subscribers {
		if s == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}
	idle := len(h.subscribers) == 0
	if idle {
		h.cancelHeartbeatLocked()
	}
	h.mu.Unlock()

	subscribersActive.Dec()
	h.log.Debug("stream unsubscribed", "subscriber_id", sub.ID)
	if idle && h.onIdle != nil {
		h.onIdle(h)
	}
}

func (h *Hub) scheduleHeartbeatLocked() {
	if h.heartbeat != nil {
		return
	}
	h.heartbeatGen++
	gen := h.heartbeatGen
	h.heartbeat = h.opts.AfterFunc(h.opts.HeartbeatInterval, func() { h.onHeartbeatTick(gen) })
}

func (h *Hub) cancelHeartbeatLocked() {
	h.heartbeatGen++
	if h.heartbeat != nil {
		h.heartbeat.Stop()
		h.heartbeat = nil
	}
}

func (h *Hub) onHeartbeatTick(gen uint64) {
	h.mu.Lock()
	if gen != h.heartbeatGen {
		h.mu.Unlock()
		return
	}
	h.heartbeat = nil
	if len(h.subscribers) == 0 {
		h.mu.Unlock()
		return
	}

	delivered, dropped := h.publishLocked(contracts.Ping)
	idle := len(h.subscribers) == 0
	if !idle {
		h.scheduleHeartbeatLocked()
	}
	h.mu.Unlock()

	h.afterPublish(contracts.Ping, delivered, dropped, idle)
}
