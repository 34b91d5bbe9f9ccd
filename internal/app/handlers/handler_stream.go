package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/corralhq/corral/internal/core/constants"
)

const keepAliveInterval = 30 * time.Second

// debugStreamHandler serves the live event feed over SSE. Each bus event
// becomes one "event:/data:" frame; the payload bytes were encoded once at
// publish time and are written as-is.
func (a *Application) debugStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeEventStream)
	w.Header().Set(constants.HeaderCacheControl, "no-cache")
	w.Header().Set(constants.HeaderConnection, "keep-alive")
	w.Header().Set(constants.HeaderAccelBuffering, "no")
	w.WriteHeader(http.StatusOK)

	// Synthetic hello so the client knows the stream is live before the
	// first real event arrives.
	fmt.Fprintf(w, "event: %s\ndata: {\"timestamp\":%q,\"message\":\"Debug stream connected\"}\n\n",
		constants.EventConnected, time.Now().UTC().Format(time.RFC3339))
	flusher.Flush()

	eventCh, unsubscribe := a.pub.Subscribe(r.Context())
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Payload); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
