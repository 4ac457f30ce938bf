// Copyright 2025 Certen Protocol
//
// SSE Event Stream - GET /sessions/{id}/events/stream, with Last-Event-ID
// resumption per spec section 6.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/certen/nooterra-core/pkg/metrics"
)

// sseEvent is one frame of the `event: <name>\nid: <eventId>\ndata:
// <json>\n\n` wire format.
type sseEvent struct {
	ID   int64
	Name string
	Data []byte
}

const sessionHistoryLimit = 256

// Broker fans out run/dispute/marketplace/x402 lifecycle events to any
// number of concurrent SSE subscribers per session, keeping a bounded
// history so a client that reconnects with Last-Event-ID can resume
// without missing anything still in the window.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan sseEvent]struct{}
	history     map[string][]sseEvent
	nextID      map[string]int64
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[chan sseEvent]struct{}),
		history:     make(map[string][]sseEvent),
		nextID:      make(map[string]int64),
	}
}

// Publish appends an event to sessionID's history and forwards it to every
// live subscriber without blocking: a subscriber whose buffer is full misses
// this event but stays subscribed. The event stays in the session history,
// so a client that reconnects from an earlier event id gets it replayed.
func (b *Broker) Publish(sessionID, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"failed to encode event payload"}`)
	}

	b.mu.Lock()
	b.nextID[sessionID]++
	ev := sseEvent{ID: b.nextID[sessionID], Name: name, Data: data}
	hist := append(b.history[sessionID], ev)
	if len(hist) > sessionHistoryLimit {
		hist = hist[len(hist)-sessionHistoryLimit:]
	}
	b.history[sessionID] = hist
	subs := make([]chan sseEvent, 0, len(b.subscribers[sessionID]))
	for ch := range b.subscribers[sessionID] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe registers a new channel for sessionID and returns it along with
// the events the caller needs replayed (everything with ID > afterID).
func (b *Broker) subscribe(sessionID string, afterID int64) (chan sseEvent, []sseEvent) {
	ch := make(chan sseEvent, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[chan sseEvent]struct{})
	}
	b.subscribers[sessionID][ch] = struct{}{}

	var replay []sseEvent
	for _, ev := range b.history[sessionID] {
		if ev.ID > afterID {
			replay = append(replay, ev)
		}
	}
	return ch, replay
}

func (b *Broker) unsubscribe(sessionID string, ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[sessionID], ch)
	if len(b.subscribers[sessionID]) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// publishRunEvent is the small adapter every mutating run/dispute/
// marketplace/x402 handler calls after a successful commit, so SSE
// consumers watching a run's session see the same lifecycle the REST
// response just confirmed.
func (h *Handlers) publishRunEvent(tenant, sessionID, name string, body interface{}) {
	if h.Broker == nil {
		return
	}
	h.Broker.Publish(tenant+":"+sessionID, name, body)
}

// HandleEventStream implements GET /sessions/{id}/events/stream: an SSE
// connection that replays any events still in the broker's history newer
// than Last-Event-ID, then streams new events as they're published, until
// the client disconnects.
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, requestID(r), httpErrTenantRequired)
		return
	}
	sessionID := tenant + ":" + r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, requestID(r), newHTTPErr(500, "INTERNAL", "streaming unsupported by this response writer"))
		return
	}

	var lastEventID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	ch, replay := h.Broker.subscribe(sessionID, lastEventID)
	defer h.Broker.unsubscribe(sessionID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.SSEActiveStreams.Inc()
	defer metrics.SSEActiveStreams.Dec()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for _, ev := range replay {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev sseEvent) {
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Name, ev.ID, ev.Data)
}
