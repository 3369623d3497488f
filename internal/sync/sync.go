// Package sync periodically exports the message journal to external
// destinations as JSONL transcripts.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrathwohl/pvp/internal/store"
)

// Destination is the interface for a sync target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations. A tick
// with no new journal entries since the last successful export is
// skipped.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	lastID   int64
	exported bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from the journal to the
// given destinations at the specified interval.
func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce exports the journal and writes it to every destination. It
// reports whether anything was written.
func (s *Scheduler) SyncOnce(ctx context.Context) bool {
	var buf bytes.Buffer
	stats, err := ExportJSONL(ctx, s.store, &buf)
	if err != nil {
		s.logger.Error("journal export failed", "err", err)
		return false
	}
	if s.exported && stats.LastID == s.lastID {
		s.logger.Debug("journal unchanged, skipping sync", "last_id", stats.LastID)
		return false
	}
	data := buf.Bytes()

	failed := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("sync destination write failed", "destination", destName(i, dest), "err", err)
		}
	}
	if failed == 0 {
		s.lastID, s.exported = stats.LastID, true
	}

	s.logger.Info("sync completed",
		"destinations", len(s.destinations),
		"failed", failed,
		"entries", stats.Entries,
		"sessions", stats.Sessions,
		"bytes", len(data))
	return true
}

func destName(i int, d Destination) string {
	if s, ok := d.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%d", i)
}
