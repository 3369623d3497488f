package model

import (
	"encoding/json"
	"time"
)

// JournalEntry is one delivered message as recorded in the journal.
type JournalEntry struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	MessageID  string          `json:"message_id"`
	Type       string          `json:"type"`
	SenderID   string          `json:"sender_id"`
	Seq        uint64          `json:"seq,omitempty"`
	Recipients []string        `json:"recipients"`
	Envelope   json.RawMessage `json:"envelope"`
	CreatedAt  time.Time       `json:"created_at"`
}
