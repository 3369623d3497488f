// Package contentstore holds context content too large to travel inline.
// Blobs are addressed by the hash of their bytes, so a reference names
// exactly one content and Put is idempotent.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agrathwohl/pvp/internal/sharedctx"
)

// ErrNotFound is returned by Get for an unknown reference.
var ErrNotFound = errors.New("content not found")

// Store maps content references to bytes.
type Store interface {
	// Put stores b and returns its reference.
	Put(ctx context.Context, b []byte) (string, error)
	// Get returns the bytes behind ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, b []byte) (string, error) {
	ref := sharedctx.Hash(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = append([]byte(nil), b...)
	}
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	if !sharedctx.ValidRef(ref) {
		return nil, fmt.Errorf("invalid content ref %q", ref)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}
