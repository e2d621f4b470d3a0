package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type accountStore struct {
	client *redis.Client
}

// Get retrieves an account by ID
func (s *accountStore) Get(ctx context.Context, id string) (*storage.Account, error) {
	data, err := s.client.HGetAll(ctx, accountKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseAccount(data)
}

// GetByUsername resolves the username index and loads the account
func (s *accountStore) GetByUsername(ctx context.Context, username string) (*storage.Account, error) {
	id, err := s.client.Get(ctx, usernameKey(username)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// List returns all accounts
func (s *accountStore) List(ctx context.Context) ([]storage.Account, error) {
	ids, err := s.client.SMembers(ctx, keyAccounts).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.Account{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, accountKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	accounts := make([]storage.Account, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		account, err := parseAccount(data)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

// Upsert creates or updates an account
func (s *accountStore) Upsert(ctx context.Context, account storage.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	now := time.Now()
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	script := redis.NewScript(upsertAccountScript)
	keys := []string{accountKey(account.ID), keyAccounts, usernameKey(account.Username)}
	args := []interface{}{
		account.ID,
		account.Username,
		account.PasswordHash,
		string(account.Role),
		strconv.FormatBool(account.Active),
		account.RegisteredDevice,
		createdAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		prefixUsername,
	}

	return scriptError(script.Run(ctx, s.client, keys, args...).Err())
}

// SetActive toggles the active flag of an existing account
func (s *accountStore) SetActive(ctx context.Context, id string, active bool) error {
	exists, err := s.client.Exists(ctx, accountKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	return s.client.HSet(ctx, accountKey(id),
		"active", strconv.FormatBool(active),
		"updated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
}

// Delete removes an account
func (s *accountStore) Delete(ctx context.Context, id string) error {
	script := redis.NewScript(deleteAccountScript)
	keys := []string{accountKey(id), keyAccounts}
	return scriptError(script.Run(ctx, s.client, keys, id, prefixUsername).Err())
}
