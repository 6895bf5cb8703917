package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/homecart/listsync/internal/contracts"
)

// ServeList streams the hub of listID to one client as text/event-stream
// until the request context ends or the hub drops the stream. Authorization
// is the caller's job.
func (r *Registry) ServeList(w http.ResponseWriter, req *http.Request, listID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := r.Subscribe(listID)
	defer sub.Close()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				r.log.Debug("stream closed by hub", "list_id", listID, "subscriber_id", sub.ID)
				return
			}
			if err := WriteFrame(w, ev); err != nil {
				r.log.Debug("stream write failed", "list_id", listID, "subscriber_id", sub.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// WriteFrame encodes one wire event as an SSE message named after its kind.
func WriteFrame(w io.Writer, ev contracts.WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
