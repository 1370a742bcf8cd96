package events

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ServeHTTP streams events to the client as Server-Sent Events
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := b.Subscribe("sse-" + uuid.NewString())
	if client == nil {
		http.Error(w, "event broker stopped", http.StatusServiceUnavailable)
		return
	}
	defer b.Unsubscribe(client)

	_, _ = w.Write(formatSSEMessage(connectedMessage(client.ID)))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(formatSSEMessage(msg))
			flusher.Flush()
		}
	}
}
