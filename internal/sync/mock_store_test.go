package sync

import (
	"context"
	"errors"
	gosync "sync"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/store"
)

// mockStore is a minimal in-memory journal for sync tests.
type mockStore struct {
	mu      gosync.Mutex
	entries []*model.JournalEntry
	listErr error
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{}
}

func (m *mockStore) add(sessionID, msgID, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &model.JournalEntry{
		ID:         int64(len(m.entries) + 1),
		SessionID:  sessionID,
		MessageID:  msgID,
		Type:       typ,
		SenderID:   "system",
		Recipients: []string{"alice"},
		Envelope:   []byte(`{"id":"` + msgID + `"}`),
	})
}

func (m *mockStore) Append(_ context.Context, entries ...*model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = int64(len(m.entries) + 1)
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *mockStore) ListSession(ctx context.Context, sessionID string, afterID int64, limit int) ([]*model.JournalEntry, error) {
	all, err := m.ListAll(ctx, afterID, 0)
	if err != nil {
		return nil, err
	}
	var out []*model.JournalEntry
	for _, e := range all {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) ListAll(_ context.Context, afterID int64, limit int) ([]*model.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.JournalEntry
	for _, e := range m.entries {
		if e.ID > afterID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *mockStore) Close() error { return nil }

var errListFailed = errors.New("list failed")
