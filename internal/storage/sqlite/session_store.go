package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
)

const sessionColumns = `id, account_id, clock_in, clock_out, session_date, device_id, total_work_minutes, sleep_minutes`

type sessionStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*storage.Session, error) {
	var (
		session  storage.Session
		clockIn  int64
		clockOut sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.AccountID, &clockIn, &clockOut,
		&session.SessionDate, &session.DeviceID, &session.TotalWorkMinutes, &session.SleepMinutes)
	if err != nil {
		return nil, err
	}
	session.ClockIn = time.Unix(0, clockIn).UTC()
	if clockOut.Valid {
		t := time.Unix(0, clockOut.Int64).UTC()
		session.ClockOut = &t
	}
	return &session, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func (s *sessionStore) Create(ctx context.Context, session storage.Session) (string, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.SessionDate == "" {
		session.SessionDate = session.ClockIn.Format(storage.DateLayout)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.AccountID, session.ClockIn.UnixNano(), nullTime(session.ClockOut),
		session.SessionDate, session.DeviceID, session.TotalWorkMinutes, session.SleepMinutes,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", storage.ErrConflict
		}
		return "", fmt.Errorf("insert session: %w", err)
	}
	return session.ID, nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

func (s *sessionStore) Close(ctx context.Context, id string, clockOut time.Time, workMinutes, sleepMinutes int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET clock_out = ?, total_work_minutes = ?, sleep_minutes = ? WHERE id = ?`,
		clockOut.UnixNano(), workMinutes, sleepMinutes, id,
	)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *sessionStore) OpenForAccount(ctx context.Context, accountID string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = ? AND clock_out IS NULL
		 ORDER BY clock_in DESC LIMIT 1`, accountID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", accountID, err)
	}
	return session, nil
}

func (s *sessionStore) List(ctx context.Context, filter storage.SessionFilter) ([]storage.Session, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.OpenOnly {
		where = append(where, "clock_out IS NULL")
	}
	if filter.From != nil {
		where = append(where, "session_date >= ?")
		args = append(args, filter.From.Format(storage.DateLayout))
	}
	if filter.To != nil {
		where = append(where, "session_date <= ?")
		args = append(args, filter.To.Format(storage.DateLayout))
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY session_date DESC, clock_in DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]storage.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (s *sessionStore) ListOpen(ctx context.Context) ([]storage.Session, error) {
	return s.List(ctx, storage.SessionFilter{OpenOnly: true})
}

func (s *sessionStore) DeleteForAccount(ctx context.Context, accountID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
