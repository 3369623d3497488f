// Package client talks to a pvp server over its HTTP/JSON API.
package client

import (
	"context"

	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/protocol"
)

// SessionClient is what CLI commands use to reach a server. It is
// implemented by HTTPClient.
type SessionClient interface {
	// Messages
	Submit(ctx context.Context, env *protocol.Envelope) (hub.Receipt, error)

	// Sessions
	Sessions(ctx context.Context) ([]hub.Summary, error)
	Snapshot(ctx context.Context, sessionID, participantID string) (*protocol.SessionState, error)
	Journal(ctx context.Context, sessionID string, afterID int64, limit int) ([]*model.JournalEntry, error)

	// Streaming
	Stream(ctx context.Context, req *StreamRequest, fn func(Event) error) error

	// Content
	PutContent(ctx context.Context, data []byte) (string, error)
	GetContent(ctx context.Context, ref string) ([]byte, error)

	// Health
	Health(ctx context.Context) (string, error)

	Close() error
}

// StreamRequest selects a participant's view of one session.
type StreamRequest struct {
	SessionID     string
	ParticipantID string
	// Types filters message types; "*" and ">" wildcards apply per
	// dot-separated segment.
	Types []string
	// LastEventID resumes after a previously seen event and skips the
	// initial snapshot.
	LastEventID string
}

// Event is one server-sent event. Snapshot events carry a SessionState;
// all others carry an Envelope.
type Event struct {
	ID       string
	Name     string
	Snapshot *protocol.SessionState
	Message  *protocol.Envelope
}
