package store

import (
	"context"

	"github.com/agrathwohl/pvp/internal/model"
)

// Store is the append-only journal of delivered session messages.
type Store interface {
	// Append records entries in order; ID and CreatedAt are filled in.
	Append(ctx context.Context, entries ...*model.JournalEntry) error

	// ListSession returns a session's entries with ID > afterID, oldest
	// first, up to limit (0 = no limit).
	ListSession(ctx context.Context, sessionID string, afterID int64, limit int) ([]*model.JournalEntry, error)

	// ListAll returns entries of every session with ID > afterID.
	ListAll(ctx context.Context, afterID int64, limit int) ([]*model.JournalEntry, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
