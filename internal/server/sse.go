package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/sink"
)

const (
	// hubBacklog is how many recent attributions are kept for clients that
	// reconnect with Last-Event-ID.
	hubBacklog = 1000

	sseKeepaliveInterval = 15 * time.Second

	sseEventName = "attribution"
)

// hubEvent is one attribution record as sent to SSE clients.
type hubEvent struct {
	seq      uint64
	assetID  int64
	permitID int64
	data     []byte
}

// streamFilter narrows a client to one asset and/or one permit. The zero
// value passes everything.
type streamFilter struct {
	assetID, permitID int64
	byAsset, byPermit bool
}

func (f streamFilter) matches(e *hubEvent) bool {
	if f.byAsset && e.assetID != f.assetID {
		return false
	}
	if f.byPermit && e.permitID != f.permitID {
		return false
	}
	return true
}

type listener struct {
	filter streamFilter
	ch     chan *hubEvent
}

// Hub fans attribution records out to connected SSE clients. It is a
// sink.Sink, so the dispatcher feeds it like any other sink.
type Hub struct {
	mu        sync.Mutex
	seq       uint64
	backlog   []*hubEvent
	listeners map[*listener]struct{}
}

var _ sink.Sink = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[*listener]struct{})}
}

func (h *Hub) Name() string { return "sse" }

// Record broadcasts each record. Slow clients miss events rather than
// blocking the dispatcher.
func (h *Hub) Record(_ context.Context, records []sink.Attribution) error {
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal attribution %s: %w", r.ID, err)
		}
		h.publish(r.AssetID, r.PermitID, data)
	}
	return nil
}

// Close disconnects nothing; open streams end when their requests do.
func (h *Hub) Close() error { return nil }

func (h *Hub) publish(assetID, permitID int64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	e := &hubEvent{seq: h.seq, assetID: assetID, permitID: permitID, data: data}
	h.backlog = append(h.backlog, e)
	if n := len(h.backlog) - hubBacklog; n > 0 {
		h.backlog = append(h.backlog[:0:0], h.backlog[n:]...)
	}

	for l := range h.listeners {
		if !l.filter.matches(e) {
			continue
		}
		select {
		case l.ch <- e:
		default:
		}
	}
}

// subscribe registers a listener and returns it with the backlog events
// after lastSeq that pass the filter. Both happen under one lock, so no
// event is missed or sent twice between the replay and the live feed.
func (h *Hub) subscribe(f streamFilter, lastSeq uint64) (*listener, []*hubEvent) {
	l := &listener{filter: f, ch: make(chan *hubEvent, 64)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[l] = struct{}{}
	if lastSeq == 0 {
		return l, nil
	}
	var missed []*hubEvent
	for _, e := range h.backlog {
		if e.seq > lastSeq && f.matches(e) {
			missed = append(missed, e)
		}
	}
	return l, missed
}

func (h *Hub) unsubscribe(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

// handleAttributionStream handles GET /v1/attributions/stream, optionally
// narrowed with ?asset_id=N and ?permit_id=N.
func (s *Server) handleAttributionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var f streamFilter
	q := r.URL.Query()
	if raw := q.Get("asset_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asset_id")
			return
		}
		f.assetID, f.byAsset = id, true
	}
	if raw := q.Get("permit_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid permit_id")
			return
		}
		f.permitID, f.byPermit = id, true
	}
	lastSeq, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	l, missed := s.hub.subscribe(f, lastSeq)
	defer s.hub.unsubscribe(l)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, e := range missed {
		writeSSEEvent(w, e)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-l.ch:
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e *hubEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", e.seq, sseEventName, e.data)
}
