package hub

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/agrathwohl/pvp/internal/model"
	"github.com/agrathwohl/pvp/internal/router"
)

// JournalEntries converts broadcasts into journal rows, one per message.
func JournalEntries(bs []router.Broadcast) ([]*model.JournalEntry, error) {
	entries := make([]*model.JournalEntry, 0, len(bs))
	for _, b := range bs {
		raw, err := json.Marshal(b.Message)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", b.Message.ID, err)
		}
		entries = append(entries, &model.JournalEntry{
			SessionID:  b.Message.SessionID,
			MessageID:  b.Message.ID,
			Type:       string(b.Message.Type),
			SenderID:   b.Message.SenderID,
			Seq:        b.Message.Seq,
			Recipients: slices.Clone(b.Recipients),
			Envelope:   raw,
		})
	}
	return entries, nil
}
