package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_RequestsCarryCredentials(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/v1/households/h1/lists":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"L9"}`)
		case "/api/v1/households/h1/lists/L1/items":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"i1","name":"Milk","quantity":1}`)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/", HouseholdID: "h1", ListID: "L1", Token: "tok", APIKey: "key"}
	ctx := context.Background()

	listID, err := c.CreateList(ctx, "Weekly")
	if err != nil || listID != "L9" {
		t.Fatalf("create list: id=%q err=%v", listID, err)
	}
	itemID, err := c.AddItem(ctx, "Milk", 1)
	if err != nil || itemID != "i1" {
		t.Fatalf("add item: id=%q err=%v", itemID, err)
	}
	if err := c.SetChecked(ctx, "i1", true); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := c.SetChecked(ctx, "i1", false); err != nil {
		t.Fatalf("uncheck: %v", err)
	}

	want := []string{
		"POST /api/v1/households/h1/lists",
		"POST /api/v1/households/h1/lists/L1/items",
		"POST /api/v1/households/h1/lists/L1/items/i1/check",
		"POST /api/v1/households/h1/lists/L1/items/i1/uncheck",
	}
	if len(seen) != len(want) {
		t.Fatalf("unexpected requests %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("request %d: want %q, got %q", i, want[i], seen[i])
		}
	}
}

func TestClient_ErrorStatusIncludesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"household not accessible"}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HouseholdID: "h1", ListID: "L1", Token: "tok"}
	_, err := c.OpenEvents(context.Background())
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
	if got := err.Error(); got != "unexpected status 403: household not accessible" {
		t.Fatalf("unexpected message %q", got)
	}
	if _, err := c.FetchItems(context.Background()); !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("fetch: expected ErrUnexpectedStatus, got %v", err)
	}
}
