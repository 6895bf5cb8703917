package realtime

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/homecart/listsync/internal/contracts"
)

func readLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-lines:
		if !ok {
			t.Fatalf("stream ended")
		}
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for SSE line")
	}
	return ""
}

func expectFrame(t *testing.T, lines <-chan string, kind, data string) {
	t.Helper()
	if got := readLine(t, lines); got != "event: "+kind {
		t.Fatalf("want event line for %s, got %q", kind, got)
	}
	if got := readLine(t, lines); got != "data: "+data {
		t.Fatalf("want data %s, got %q", data, got)
	}
	if got := readLine(t, lines); got != "" {
		t.Fatalf("want frame separator, got %q", got)
	}
}

func TestServeList_StreamsFramesAndUnsubscribesOnCancel(t *testing.T) {
	reg, _ := newTestRegistry(8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.ServeList(w, r, "L1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	expectFrame(t, lines, "connected", `{"kind":"connected"}`)

	reg.Publish("L1", checked("x"))
	expectFrame(t, lines, "item-checked", `{"kind":"item-checked","itemId":"x"}`)

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("hub still registered after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, contracts.Ping); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := buf.String(); got != "event: ping\ndata: {\"kind\":\"ping\"}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
}

func TestServeList_RequiresFlusher(t *testing.T) {
	reg, _ := newTestRegistry(8)
	w := &nonFlushingWriter{header: http.Header{}}
	reg.ServeList(w, httptest.NewRequest(http.MethodGet, "/", nil), "L1")
	if w.status != http.StatusInternalServerError {
		t.Fatalf("expected 500 without flusher, got %d", w.status)
	}
	if !strings.Contains(w.body.String(), "streaming unsupported") {
		t.Fatalf("unexpected body %q", w.body.String())
	}
	if reg.Len() != 0 {
		t.Fatalf("no hub should be created when streaming is unsupported")
	}
}

type nonFlushingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *nonFlushingWriter) Header() http.Header         { return w.header }
func (w *nonFlushingWriter) Write(p []byte) (int, error) { return w.body.Write(p) }
func (w *nonFlushingWriter) WriteHeader(status int)      { w.status = status }
