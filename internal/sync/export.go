package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/store"
)

// pageSize bounds each journal read during export.
const pageSize = 500

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	EntryCount   int       `json:"entry_count"`
	SessionCount int       `json:"session_count"`
	LastID       int64     `json:"last_id"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string             `json:"type"`
	Data *model.JournalEntry `json:"data"`
}

// Stats summarises one export.
type Stats struct {
	Entries  int
	Sessions int
	LastID   int64
}

// ExportJSONL writes the whole journal to w as JSONL, oldest entry first,
// preceded by a header line.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) (Stats, error) {
	var (
		entries  []*model.JournalEntry
		sessions = make(map[string]bool)
		after    int64
	)
	for {
		page, err := s.ListAll(ctx, after, pageSize)
		if err != nil {
			return Stats{}, fmt.Errorf("list journal after %d: %w", after, err)
		}
		for _, e := range page {
			entries = append(entries, e)
			sessions[e.SessionID] = true
			after = e.ID
		}
		if len(page) < pageSize {
			break
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	stats := Stats{Entries: len(entries), Sessions: len(sessions), LastID: after}
	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		EntryCount:   stats.Entries,
		SessionCount: stats.Sessions,
		LastID:       stats.LastID,
	}); err != nil {
		return Stats{}, fmt.Errorf("encode header: %w", err)
	}

	for _, e := range entries {
		if err := enc.Encode(record{Type: "entry", Data: e}); err != nil {
			return Stats{}, fmt.Errorf("encode entry %s: %w", e.MessageID, err)
		}
	}
	return stats, nil
}
