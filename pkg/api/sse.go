package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/testpilot-dev/testpilot/pkg/orchestrator"
)

// clientBufSize is how many events a slow SSE client may fall behind before
// events are dropped for it. The run event stream itself stays unbuffered.
const clientBufSize = 64

// sseMessage is one frame pushed to SSE clients.
type sseMessage struct {
	Event string
	Data  any
}

// eventHub fans run events out to connected SSE clients.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan sseMessage]struct{}
	closed  bool
}

func newEventHub() *eventHub {
	return &eventHub{
		clients: make(map[chan sseMessage]struct{}),
	}
}

// Broadcast delivers a run event to every connected client. Slow clients
// miss events rather than stalling the orchestrator.
func (h *eventHub) Broadcast(ev orchestrator.Event) {
	h.send(sseMessage{Event: "run", Data: ev})
}

// BroadcastTestUpdated delivers a test-updated notification.
func (h *eventHub) BroadcastTestUpdated(testName string) {
	h.send(sseMessage{Event: "test-updated", Data: map[string]string{"testName": testName}})
}

func (h *eventHub) send(msg sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *eventHub) subscribe() chan sseMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan sseMessage, clientBufSize)

	if h.closed {
		close(ch)

		return ch
	}

	h.clients[ch] = struct{}{}

	return ch
}

func (h *eventHub) unsubscribe(ch chan sseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Close disconnects all clients.
func (h *eventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// handleEvents streams run events to the client as server-sent events.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{"streaming unsupported"})

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(msg.Data)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()
		}
	}
}
