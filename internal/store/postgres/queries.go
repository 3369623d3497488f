package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/agrathwohl/pvp/internal/model"
)

// journalColumns is the column list used for SELECT statements on the journal table.
const journalColumns = `id, session_id, message_id, type, sender_id, seq, recipients, envelope, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAppend(ctx context.Context, db executor, e *model.JournalEntry) error {
	recipients := e.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO journal (session_id, message_id, type, sender_id, seq, recipients, envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id, created_at`,
		e.SessionID, e.MessageID, e.Type, e.SenderID, int64(e.Seq), pq.Array(recipients), []byte(e.Envelope),
	).Scan(&e.ID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Already journaled under this message id.
		return nil
	}
	return err
}

func queryListSession(ctx context.Context, db executor, sessionID string, afterID int64, limit int) ([]*model.JournalEntry, error) {
	q := `SELECT ` + journalColumns + ` FROM journal WHERE session_id = $1 AND id > $2 ORDER BY id ASC`
	args := []any{sessionID, afterID}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func queryListAll(ctx context.Context, db executor, afterID int64, limit int) ([]*model.JournalEntry, error) {
	q := `SELECT ` + journalColumns + ` FROM journal WHERE id > $1 ORDER BY id ASC`
	args := []any{afterID}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}
