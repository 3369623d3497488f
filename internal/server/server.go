// Package server exposes the session hub over HTTP: message submission,
// per-participant event streams, content upload and journal reads. A
// separate gRPC server answers health checks.
package server

import (
	"context"
	"log/slog"

	"github.com/agrathwohl/pvp/internal/contentstore"
	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/protocol"
	"github.com/agrathwohl/pvp/internal/store"
)

// DefaultOffloadThreshold is the inline content size above which
// context content is moved to the content store before routing.
const DefaultOffloadThreshold = 64 << 10

// Hub is the part of the session runtime the HTTP layer drives.
type Hub interface {
	Submit(ctx context.Context, env *protocol.Envelope) (hub.Receipt, error)
	Disconnect(ctx context.Context, sessionID, participantID string) error
	Sessions(ctx context.Context) ([]hub.Summary, error)
	Snapshot(ctx context.Context, sessionID, participantID string) (protocol.SessionState, error)
	AddSink(s hub.Sink)
}

// Options configures a Server.
type Options struct {
	// Content stores offloaded context content. Defaults to memory.
	Content contentstore.Store
	// Journal serves transcript reads when set.
	Journal          store.Store
	OffloadThreshold int
	Logger           *slog.Logger
}

// Server is the HTTP front of a hub.
type Server struct {
	hub       Hub
	content   contentstore.Store
	journal   store.Store
	streams   *sseHub
	threshold int
	logger    *slog.Logger
}

// New returns a Server and registers its stream fan-out with h.
func New(h Hub, opts Options) *Server {
	s := &Server{
		hub:       h,
		content:   opts.Content,
		journal:   opts.Journal,
		streams:   newSSEHub(),
		threshold: opts.OffloadThreshold,
		logger:    opts.Logger,
	}
	if s.content == nil {
		s.content = contentstore.NewMemory()
	}
	if s.threshold <= 0 {
		s.threshold = DefaultOffloadThreshold
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	h.AddSink(s.streams)
	return s
}
