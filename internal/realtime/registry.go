package realtime

import (
	"sync"

	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/platform/logger"
)

// Notifier is the best-effort side channel command handlers call after a
// mutation has been persisted. Implementations never block on delivery and
// have nothing to report back to the caller.
type Notifier interface {
	Notify(listID string, event contracts.DomainEvent)
}

// Registry maps list ids to hubs. Hubs are created on first subscribe and
// evicted once their last stream leaves; they hold nothing worth keeping.
type Registry struct {
	opts Options
	log  *logger.Logger

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts: opts,
		log:  opts.Logger.With("component", "hub-registry"),
		hubs: map[string]*Hub{},
	}
}

// Subscribe opens a stream on the hub for listID, creating the hub if needed.
func (r *Registry) Subscribe(listID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, ok := r.hubs[listID]
	if !ok {
		hub = newHub(listID, r.opts, r.evict)
		r.hubs[listID] = hub
		hubsActive.Inc()
		r.log.Debug("hub created", "list_id", listID)
	}
	// Subscribing under r.mu keeps evict from removing a hub that is gaining
	// a subscriber.
	return hub.Subscribe()
}

// Publish sends ev to the current viewers of listID. A list nobody is viewing
// has no hub and the event is discarded.
func (r *Registry) Publish(listID string, ev contracts.WireEvent) {
	hub, ok := r.Lookup(listID)
	if !ok {
		return
	}
	hub.Publish(ev)
}

// Notify translates a domain event and publishes it to the hub of listID.
func (r *Registry) Notify(listID string, event contracts.DomainEvent) {
	r.Publish(listID, contracts.Translate(event))
}

func (r *Registry) Lookup(listID string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hub, ok := r.hubs[listID]
	return hub, ok
}

// Len reports the number of live hubs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

func (r *Registry) evict(hub *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.hubs[hub.listID]; !ok || current != hub {
		return
	}
	if hub.SubscriberCount() > 0 {
		return
	}
	delete(r.hubs, hub.listID)
	hubsActive.Dec()
	r.log.Debug("hub evicted", "list_id", hub.listID)
}
