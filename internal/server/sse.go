package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrathwohl/pvp/internal/router"
)

const (
	// sseRingBufferSize is the number of recent events kept in memory for
	// Last-Event-ID reconnection support.
	sseRingBufferSize = 1000

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second

	// disconnectTimeout bounds the presence update sent when a stream ends.
	disconnectTimeout = 5 * time.Second
)

// sseEvent is one routed message as stored in the ring buffer and sent to
// SSE clients.
type sseEvent struct {
	ID         uint64 // monotonically increasing across all sessions
	SessionID  string
	Type       string
	Recipients []string
	Data       []byte // JSON-encoded envelope
}

func (e *sseEvent) addressedTo(participantID string) bool {
	return slices.Contains(e.Recipients, participantID)
}

// sseHub fans routed messages out to connected SSE clients, each of which
// sees only what is addressed to its participant. It keeps an in-memory
// ring buffer for Last-Event-ID reconnection.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64

	// Ring buffer for replay on reconnection.
	ringMu  sync.RWMutex
	ring    [sseRingBufferSize]sseEvent
	ringPos int // next write position (wraps around)
	ringLen int // number of valid entries (up to sseRingBufferSize)
}

// sseClient represents a single connected stream.
type sseClient struct {
	sessionID     string
	participantID string
	types         []string       // message type patterns to match (empty = all)
	ch            chan *sseEvent // buffered channel for event delivery
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
	}
}

// Deliver implements hub.Sink.
func (h *sseHub) Deliver(b router.Broadcast) {
	data, err := json.Marshal(b.Message)
	if err != nil {
		slog.Warn("failed to marshal message for SSE", "id", b.Message.ID, "error", err)
		return
	}
	h.broadcast(b.Message.SessionID, string(b.Message.Type), b.Recipients, data)
}

// broadcast stores an event and sends it to every matching client.
func (h *sseHub) broadcast(sessionID, typ string, recipients []string, payload []byte) {
	evt := &sseEvent{
		ID:         h.nextID.Add(1),
		SessionID:  sessionID,
		Type:       typ,
		Recipients: slices.Clone(recipients),
		Data:       payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % sseRingBufferSize
	if h.ringLen < sseRingBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matches(evt) {
			select {
			case c.ch <- evt:
			default:
				slog.Warn("dropping SSE event for slow client",
					"session_id", c.sessionID, "participant", c.participantID, "id", evt.ID)
			}
		}
	}
}

// subscribe registers a new SSE client and returns it. Call unsubscribe when done.
func (h *sseHub) subscribe(sessionID, participantID string, types []string) *sseClient {
	c := &sseClient{
		sessionID:     sessionID,
		participantID: participantID,
		types:         types,
		ch:            make(chan *sseEvent, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// unsubscribe removes a client and reports whether it was the last stream
// of its participant.
func (h *sseHub) unsubscribe(c *sseClient) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for other := range h.clients {
		if other.sessionID == c.sessionID && other.participantID == c.participantID {
			return false
		}
	}
	return true
}

// eventsSince returns buffered events with ID > lastID, in order.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	if h.ringLen == 0 {
		return nil
	}

	var result []*sseEvent

	// Walk the ring buffer from oldest to newest.
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += sseRingBufferSize
	}
	for i := range h.ringLen {
		evt := h.ring[(start+i)%sseRingBufferSize]
		if evt.ID > lastID {
			result = append(result, &evt)
		}
	}

	return result
}

func (c *sseClient) matches(evt *sseEvent) bool {
	return evt.SessionID == c.sessionID && evt.addressedTo(c.participantID) && c.matchesType(evt.Type)
}

// matchesType checks the client's type filters. An empty filter list
// matches all types.
func (c *sseClient) matchesType(typ string) bool {
	if len(c.types) == 0 {
		return true
	}
	for _, pattern := range c.types {
		if matchTopicPattern(pattern, typ) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated name against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style), so "gate.*" matches "gate.request".
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			// ">" matches one or more remaining segments.
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// handleStream handles GET /v1/sessions/{id}/stream?participant=<pid>.
// The first event is a session.state snapshot unless the client resumes
// with Last-Event-ID. When the participant's last stream closes, the
// participant is marked disconnected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := r.PathValue("id")
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		writeError(w, http.StatusBadRequest, "participant is required")
		return
	}
	var types []string
	if q := r.URL.Query().Get("types"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	// Subscribe before taking the snapshot so nothing falls between them.
	client := s.streams.subscribe(sessionID, participantID, types)
	defer func() {
		if s.streams.unsubscribe(client) {
			s.disconnect(sessionID, participantID)
		}
	}()

	var snapshot []byte
	lastIDStr := r.Header.Get("Last-Event-ID")
	if lastIDStr == "" {
		st, err := s.hub.Snapshot(r.Context(), sessionID, participantID)
		if err != nil {
			writeHubError(w, err)
			return
		}
		snapshot, err = json.Marshal(st)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "encode snapshot")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	if snapshot != nil {
		fmt.Fprintf(w, "event:%s\ndata:%s\n\n", SnapshotEvent, snapshot)
	} else if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
		for _, evt := range s.streams.eventsSince(lastID) {
			if client.matches(evt) {
				writeSSEEvent(w, evt)
			}
		}
	}
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SnapshotEvent is the SSE event name of the initial state snapshot.
const SnapshotEvent = "snapshot"

func (s *Server) disconnect(sessionID, participantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.hub.Disconnect(ctx, sessionID, participantID); err != nil {
		s.logger.Debug("stream disconnect", "session_id", sessionID, "participant", participantID, "err", err)
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Type)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
