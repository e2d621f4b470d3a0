package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

type eventStore struct {
	db *sql.DB
}

func (s *eventStore) Append(ctx context.Context, event storage.Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("event missing session id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (account_id, session_id, event_type, event_time, source) VALUES (?, ?, ?, ?, ?)`,
		event.AccountID, event.SessionID, string(event.Type), event.Time.UnixNano(), string(event.Source),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *eventStore) Query(ctx context.Context, sessionID string, types ...storage.EventType) ([]storage.Event, error) {
	query := `SELECT id, account_id, session_id, event_type, event_time, source FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND event_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY event_time, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.Event, 0)
	for rows.Next() {
		var (
			event     storage.Event
			eventType string
			source    string
			at        int64
		)
		if err := rows.Scan(&event.Seq, &event.AccountID, &event.SessionID, &eventType, &at, &source); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = storage.EventType(eventType)
		event.Source = storage.Source(source)
		event.Time = time.Unix(0, at).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *eventStore) DeleteForSessions(ctx context.Context, sessionIDs ...string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(sessionIDs))
	args := make([]any, len(sessionIDs))
	for i, id := range sessionIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE session_id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete session events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
