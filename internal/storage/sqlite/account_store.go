package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
)

const accountColumns = `id, username, password_hash, role, active, registered_device, created_at, updated_at`

type accountStore struct {
	db *sql.DB
}

func scanAccount(row rowScanner) (*storage.Account, error) {
	var (
		account   storage.Account
		role      string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &role,
		&account.Active, &account.RegisteredDevice, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	account.Role = storage.Role(role)
	account.CreatedAt = time.Unix(0, createdAt).UTC()
	account.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &account, nil
}

func (s *accountStore) get(ctx context.Context, where string, arg string) (*storage.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where+` = ?`, arg)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *accountStore) Get(ctx context.Context, id string) (*storage.Account, error) {
	return s.get(ctx, "id", id)
}

func (s *accountStore) GetByUsername(ctx context.Context, username string) (*storage.Account, error) {
	return s.get(ctx, "username", username)
}

func (s *accountStore) List(ctx context.Context) ([]storage.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]storage.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (s *accountStore) Upsert(ctx context.Context, account storage.Account) error {
	now := time.Now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password_hash = excluded.password_hash,
			role = excluded.role,
			active = excluded.active,
			registered_device = excluded.registered_device,
			updated_at = excluded.updated_at`,
		account.ID, account.Username, account.PasswordHash, string(account.Role), account.Active,
		account.RegisteredDevice, account.CreatedAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", account.Username, storage.ErrConflict)
		}
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *accountStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
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

func (s *accountStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
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
