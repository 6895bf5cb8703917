// Package bus relays list events between API instances so a mutation handled
// by one replica reaches viewers connected to another.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/platform/logger"
)

type Bus interface {
	Publish(ctx context.Context, ev contracts.ListEvent) error
	// StartForwarder subscribes and calls onMsg for every event received,
	// including those this instance published, until ctx is done.
	StartForwarder(ctx context.Context, onMsg func(ev contracts.ListEvent)) error
	Close() error
}

const (
	defaultPublishTimeout = 2 * time.Second
	DefaultQueueSize      = 1024
)

// Notifier hands translated domain events to the bus without blocking the
// command that produced them. Local viewers receive the event once it comes
// back through the forwarder.
//
// A single worker drains a bounded FIFO, so events reach the bus in the order
// they were notified. When the queue is full the event is dropped and counted.
type Notifier struct {
	bus            Bus
	log            *logger.Logger
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan contracts.ListEvent
	done   chan struct{}
}

// NewNotifier starts the publishing worker. queueSize <= 0 uses DefaultQueueSize.
func NewNotifier(b Bus, log *logger.Logger, queueSize int) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	n := &Notifier{
		bus:            b,
		log:            log.With("component", "relay-notifier"),
		publishTimeout: defaultPublishTimeout,
		queue:          make(chan contracts.ListEvent, queueSize),
		done:           make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) Notify(listID string, event contracts.DomainEvent) {
	ev := contracts.ListEvent{ListID: listID, Event: contracts.Translate(event)}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		relayErrors.WithLabelValues("closed").Inc()
		return
	}
	select {
	case n.queue <- ev:
	default:
		relayErrors.WithLabelValues("queue_full").Inc()
		n.log.Warn("relay queue full, dropping event", "list_id", listID, "kind", ev.Event.Kind)
	}
}

// Close stops accepting events and waits until the queued ones are published
// or ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		n.publish(ev)
	}
}

func (n *Notifier) publish(ev contracts.ListEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		relayErrors.WithLabelValues("publish").Inc()
		n.log.Warn("relay publish failed", "list_id", ev.ListID, "kind", ev.Event.Kind, "error", err)
		return
	}
	relayMessages.WithLabelValues("published").Inc()
}

// Publisher is the local fan-out the forwarder feeds.
type Publisher interface {
	Publish(listID string, ev contracts.WireEvent)
}

// Forward starts b's forwarder and hands every relayed event to local.
func Forward(ctx context.Context, b Bus, local Publisher) error {
	return b.StartForwarder(ctx, func(ev contracts.ListEvent) {
		local.Publish(ev.ListID, ev.Event)
	})
}
