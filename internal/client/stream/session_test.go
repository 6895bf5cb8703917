package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homecart/listsync/internal/client/reconcile"
	"github.com/homecart/listsync/internal/contracts"
	"github.com/homecart/listsync/internal/realtime"
)

type fakeServer struct {
	registry *realtime.Registry
	fetches  atomic.Int32
	streams  atomic.Int32

	mu    sync.Mutex
	items []reconcile.ItemView
}

func newFakeServer(heartbeat time.Duration) *fakeServer {
	return &fakeServer{
		registry: realtime.NewRegistry(realtime.Options{HeartbeatInterval: heartbeat}),
		items:    []reconcile.ItemView{{ID: "x", Name: "Bread"}},
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/api/v1/households/h1/lists/L1/events":
		f.streams.Add(1)
		f.registry.ServeList(w, r, "L1")
	case "/api/v1/households/h1/lists/L1/items":
		f.fetches.Add(1)
		f.mu.Lock()
		items := f.items
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"list_id": "L1", "items": items})
	default:
		http.NotFound(w, r)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestSession(srv *httptest.Server, heartbeat time.Duration) (*Session, *reconcile.Reconciler) {
	client := &Client{BaseURL: srv.URL, HouseholdID: "h1", ListID: "L1", Token: "tok"}
	rec := reconcile.New(nil)
	return NewSession(client, rec, Options{HeartbeatInterval: heartbeat, RetryMin: 10 * time.Millisecond}), rec
}

func TestSession_ForegroundPatchesAndBackgroundCloses(t *testing.T) {
	fake := newFakeServer(time.Minute)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	session, rec := newTestSession(srv, time.Minute)
	session.Foreground(context.Background())

	waitFor(t, "open stream", func() bool { return session.State() == StateOpen && fake.registry.Len() == 1 })
	waitFor(t, "initial fetch", func() bool { return len(rec.Cache().Items()) == 1 })

	before := fake.fetches.Load()
	fake.registry.Publish("L1", contracts.WireEvent{Kind: contracts.KindItemChecked, ItemID: "x"})
	waitFor(t, "check patch", func() bool {
		item, _ := rec.Cache().Item("x")
		return item.Checked
	})
	if fake.fetches.Load() != before {
		t.Fatalf("check event triggered a fetch")
	}

	fake.mu.Lock()
	fake.items = []reconcile.ItemView{{ID: "x", Name: "Bread"}, {ID: "y", Name: "Eggs"}}
	fake.mu.Unlock()
	fake.registry.Publish("L1", contracts.WireEvent{Kind: contracts.KindItemAdded, ItemID: "y"})
	waitFor(t, "refetch after add", func() bool { return len(rec.Cache().Items()) == 2 && !rec.Cache().Stale() })

	session.Background()
	if session.State() != StateDisconnected {
		t.Fatalf("expected disconnected after background, got %s", session.State())
	}
	waitFor(t, "hub eviction", func() bool { return fake.registry.Len() == 0 })

	// Backgrounded sessions stay down.
	streams := fake.streams.Load()
	time.Sleep(50 * time.Millisecond)
	if fake.streams.Load() != streams {
		t.Fatalf("session reconnected while backgrounded")
	}

	session.Foreground(context.Background())
	defer session.Background()
	waitFor(t, "reopen on foreground", func() bool { return fake.streams.Load() == streams+1 && session.State() == StateOpen })
}

func TestSession_HeartbeatWatchdogReconnects(t *testing.T) {
	var opens atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/households/h1/lists/L1/events" {
			_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
			return
		}
		opens.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: connected\ndata: {\"kind\":\"connected\"}\n\n"))
		w.(http.Flusher).Flush()
		// Silent from here on: no pings.
		<-r.Context().Done()
	}))
	defer srv.Close()

	session, _ := newTestSession(srv, 20*time.Millisecond)
	session.Foreground(context.Background())
	defer session.Background()

	waitFor(t, "watchdog reconnect", func() bool { return opens.Load() >= 2 })
}

func TestSession_RejectedStreamRetriesWithState(t *testing.T) {
	fake := newFakeServer(time.Minute)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HouseholdID: "h1", ListID: "L1", Token: "wrong"}
	var mu sync.Mutex
	var seen []State
	session := NewSession(client, reconcile.New(nil), Options{
		RetryMin: 10 * time.Millisecond,
		OnState: func(s State) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	session.Foreground(context.Background())
	waitFor(t, "two attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		attempts := 0
		for _, s := range seen {
			if s == StateConnecting {
				attempts++
			}
		}
		return attempts >= 2
	})
	session.Background()

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s == StateOpen {
			t.Fatalf("unauthorized stream must never be open")
		}
	}
	if seen[0] != StateConnecting || seen[1] != StateError || seen[2] != StateDisconnected {
		t.Fatalf("unexpected transitions %v", seen)
	}
}
