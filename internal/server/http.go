package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/agrathwohl/pvp/internal/contentstore"
	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/idgen"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/sharedctx"
)

const (
	maxEnvelopeBytes = 16 << 20
	maxContentBytes  = 64 << 20
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleSubmit)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleSnapshot)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /v1/sessions/{id}/journal", s.handleJournal)
	mux.HandleFunc("PUT /v1/content", s.handlePutContent)
	mux.HandleFunc("GET /v1/content/{ref}", s.handleGetContent)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit handles POST /v1/messages. The id and timestamp are filled
// in when the sender left them empty.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var env protocol.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEnvelopeBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if env.ID == "" {
		id, err := idgen.MessageID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate message id")
			return
		}
		env.ID = id
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if err := s.offload(r.Context(), &env); err != nil {
		writeHubError(w, err)
		return
	}

	rc, err := s.hub.Submit(r.Context(), &env)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rc)
}

// offload moves oversized context content into the content store and
// routes a reference instead.
func (s *Server) offload(ctx context.Context, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeContextAdd:
		var p protocol.ContextAdd
		if err := env.Unmarshal(&p); err != nil || !s.oversized(p.Content, p.ContentRef) {
			return nil // malformed payloads are reported by the router
		}
		ref, err := s.content.Put(ctx, []byte(p.Content))
		if err != nil {
			return fmt.Errorf("offload context content: %w", err)
		}
		p.Content, p.ContentRef = "", ref
		return s.repack(env, p)
	case protocol.TypeContextUpdate:
		var p protocol.ContextUpdate
		if err := env.Unmarshal(&p); err != nil || !s.oversized(p.Content, p.ContentRef) {
			return nil
		}
		ref, err := s.content.Put(ctx, []byte(p.Content))
		if err != nil {
			return fmt.Errorf("offload context content: %w", err)
		}
		p.Content, p.ContentRef = "", ref
		return s.repack(env, p)
	}
	return nil
}

// oversized reports whether content should be offloaded. A payload that
// already names a ref is left for the router to reject.
func (s *Server) oversized(content, ref string) bool {
	return ref == "" && len(content) > s.threshold
}

func (s *Server) repack(env *protocol.Envelope, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode offloaded payload: %w", err)
	}
	env.Payload = raw
	s.logger.Debug("context content offloaded", "id", env.ID, "session_id", env.SessionID)
	return nil
}

// handleListSessions handles GET /v1/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.hub.Sessions(r.Context())
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleSnapshot handles GET /v1/sessions/{id}/state?participant=<pid>.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		writeError(w, http.StatusBadRequest, "participant is required")
		return
	}
	st, err := s.hub.Snapshot(r.Context(), r.PathValue("id"), participantID)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleJournal handles GET /v1/sessions/{id}/journal?after=&limit=.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal is not configured")
		return
	}
	q := r.URL.Query()
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.journal.ListSession(r.Context(), r.PathValue("id"), after, limit)
	if err != nil {
		s.logger.Error("journal read failed", "session_id", r.PathValue("id"), "err", err)
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}
	if entries == nil {
		entries = []*model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handlePutContent handles PUT /v1/content.
func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxContentBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxContentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "content too large")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "content is empty")
		return
	}
	ref, err := s.content.Put(r.Context(), body)
	if err != nil {
		s.logger.Error("content put failed", "err", err)
		writeError(w, http.StatusBadGateway, "content store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

// handleGetContent handles GET /v1/content/{ref}.
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	b, err := s.content.Get(r.Context(), r.PathValue("ref"))
	switch {
	case errors.Is(err, contentstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil && !sharedctx.ValidRef(r.PathValue("ref")):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("content get failed", "err", err)
		writeError(w, http.StatusBadGateway, "content store unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// statusFor maps an engine error code to an HTTP status.
func statusFor(code model.Code) int {
	switch code {
	case model.CodeUnauthorized:
		return http.StatusForbidden
	case model.CodeInvalidPayload, model.CodeInvalidRole:
		return http.StatusBadRequest
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeSessionEnded:
		return http.StatusGone
	case model.CodeGateResolved, model.CodeOutOfOrder:
		return http.StatusConflict
	case model.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeHubError writes a rejection or runtime failure from the hub.
func writeHubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hub.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	code := model.CodeOf(err)
	msg := err.Error()
	var me *model.Error
	if errors.As(err, &me) && me.Message != "" {
		msg = me.Message
	}
	writeJSON(w, statusFor(code), map[string]string{"error": msg, "code": string(code)})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
