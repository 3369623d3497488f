package postgres

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/agrathwohl/pvp/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into a model.JournalEntry.
// The row must contain columns in the order defined by journalColumns.
func scanEntry(row scannable) (*model.JournalEntry, error) {
	var e model.JournalEntry
	var (
		seq        int64
		recipients pq.StringArray
		envelope   []byte
	)
	err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.MessageID,
		&e.Type,
		&e.SenderID,
		&seq,
		&recipients,
		&envelope,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Seq = uint64(seq)
	e.Recipients = []string(recipients)
	e.Envelope = envelope
	return &e, nil
}

// scanEntries scans all rows into a slice of journal entries.
func scanEntries(rows *sql.Rows) ([]*model.JournalEntry, error) {
	var out []*model.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
