package reconcile

import (
	"context"

	"github.com/homecart/listsync/internal/contracts"
)

type Action int

const (
	// ActionNone means the event did not touch the cache.
	ActionNone Action = iota
	// ActionPatched means a flag was changed in place without a fetch.
	ActionPatched
	// ActionInvalidated means the cache was marked stale and a refetch queued.
	ActionInvalidated
)

func (a Action) String() string {
	switch a {
	case ActionPatched:
		return "patched"
	case ActionInvalidated:
		return "invalidated"
	default:
		return "none"
	}
}

// Fetcher loads the authoritative item list from the server.
type Fetcher interface {
	FetchItems(ctx context.Context) ([]ItemView, error)
}

type FetcherFunc func(ctx context.Context) ([]ItemView, error)

func (f FetcherFunc) FetchItems(ctx context.Context) ([]ItemView, error) { return f(ctx) }

type Reconciler struct {
	// OnChange, if set, receives the cache contents after every patch and
	// every successful refetch.
	OnChange func(items []ItemView)

	cache *Cache
	// refetch holds at most one pending request, so bursts coalesce.
	refetch chan struct{}
}

func New(cache *Cache) *Reconciler {
	if cache == nil {
		cache = NewCache(nil)
	}
	return &Reconciler{cache: cache, refetch: make(chan struct{}, 1)}
}

func (r *Reconciler) Cache() *Cache { return r.cache }

// Apply folds one wire event into the cache. It never performs I/O.
func (r *Reconciler) Apply(ev contracts.WireEvent) Action {
	switch ev.Kind {
	case contracts.KindItemChecked, contracts.KindItemUnchecked:
		if ev.ItemID == "" {
			return ActionNone
		}
		if r.cache.SetChecked(ev.ItemID, ev.Kind == contracts.KindItemChecked) {
			r.changed()
			return ActionPatched
		}
		// The item is not cached yet; only a fetch can tell us about it.
		r.Invalidate()
		return ActionInvalidated
	case contracts.KindItemAdded, contracts.KindItemRemoved, contracts.KindItemUpdated:
		r.Invalidate()
		return ActionInvalidated
	default:
		return ActionNone
	}
}

// Invalidate marks the cache stale and queues a refetch.
func (r *Reconciler) Invalidate() {
	r.cache.MarkStale()
	r.RequestRefetch()
}

func (r *Reconciler) RequestRefetch() {
	select {
	case r.refetch <- struct{}{}:
	default:
	}
}

// RefetchRequested yields a value whenever a refetch is pending.
func (r *Reconciler) RefetchRequested() <-chan struct{} {
	return r.refetch
}

// Refetch replaces the cache with the server's list.
func (r *Reconciler) Refetch(ctx context.Context, f Fetcher) error {
	token := r.cache.beginFetch()
	items, err := f.FetchItems(ctx)
	if err != nil {
		return err
	}
	r.cache.replace(items, token)
	r.changed()
	return nil
}

func (r *Reconciler) changed() {
	if r.OnChange != nil {
		r.OnChange(r.cache.Items())
	}
}

// Run serves refetch requests until ctx is done. Errors go to onError and the
// cache stays stale until the next successful fetch.
func (r *Reconciler) Run(ctx context.Context, f Fetcher, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.refetch:
			if err := r.Refetch(ctx, f); err != nil && ctx.Err() == nil && onError != nil {
				onError(err)
			}
		}
	}
}
