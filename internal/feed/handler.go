package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler returns an http.HandlerFunc that streams request events as SSE.
// Clients may filter sources via ?sources=monitored,replay query parameter.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		// Parse optional source filter.
		var sourceFilter map[string]bool
		if q := r.URL.Query().Get("sources"); q != "" {
			sourceFilter = make(map[string]bool)
			for _, s := range strings.Split(q, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sourceFilter[s] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if sourceFilter != nil && !sourceFilter[evt.Source] {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					slog.Debug("event marshal failed", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: request\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
