package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

type accountStore struct {
	db *bbolt.DB
}

// Get retrieves an account by ID.
func (s *accountStore) Get(ctx context.Context, id string) (*storage.Account, error) {
	return getBucketValue[storage.Account](ctx, s.db, bucketAccounts, id)
}

// GetByUsername retrieves an account through the username index.
func (s *accountStore) GetByUsername(ctx context.Context, username string) (*storage.Account, error) {
	var account storage.Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		index, err := indexBucket(tx, bucketIndexUsername)
		if err != nil {
			return err
		}
		id := index.Get([]byte(username))
		if id == nil {
			return storage.ErrNotFound
		}

		bucket := tx.Bucket([]byte(bucketAccounts))
		if bucket == nil {
			return storage.ErrNotFound
		}
		data := bucket.Get(id)
		if data == nil {
			return storage.ErrNotFound
		}
		return unmarshal(data, &account)
	})

	if err != nil {
		return nil, err
	}

	return &account, nil
}

// List retrieves all accounts.
func (s *accountStore) List(ctx context.Context) ([]storage.Account, error) {
	return listBucket[storage.Account](ctx, s.db, bucketAccounts)
}

// Upsert creates or updates an account. Usernames are unique.
func (s *accountStore) Upsert(ctx context.Context, account storage.Account) error {
	now := time.Now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketAccounts))
		if bucket == nil {
			return fmt.Errorf("accounts bucket not found")
		}
		index, err := indexBucket(tx, bucketIndexUsername)
		if err != nil {
			return err
		}

		if owner := index.Get([]byte(account.Username)); owner != nil && string(owner) != account.ID {
			return fmt.Errorf("username %q: %w", account.Username, storage.ErrConflict)
		}

		if existing := bucket.Get([]byte(account.ID)); existing != nil {
			var previous storage.Account
			if err := unmarshal(existing, &previous); err != nil {
				return err
			}
			if previous.Username != account.Username {
				if err := index.Delete([]byte(previous.Username)); err != nil {
					return err
				}
			}
		}

		data, err := marshal(account)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(account.ID), data); err != nil {
			return err
		}
		return index.Put([]byte(account.Username), []byte(account.ID))
	})
}

// SetActive enables or disables an account.
func (s *accountStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAccounts))
		if bucket == nil {
			return storage.ErrNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}

		var account storage.Account
		if err := unmarshal(data, &account); err != nil {
			return err
		}

		account.Active = active
		account.UpdatedAt = time.Now()

		newData, err := marshal(account)
		if err != nil {
			return err
		}

		return bucket.Put([]byte(id), newData)
	})
}

// Delete removes an account and its username index entry.
func (s *accountStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketAccounts))
		if bucket == nil {
			return storage.ErrNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}

		var account storage.Account
		if err := unmarshal(data, &account); err != nil {
			return err
		}

		index, err := indexBucket(tx, bucketIndexUsername)
		if err != nil {
			return err
		}
		if err := index.Delete([]byte(account.Username)); err != nil {
			return err
		}

		return bucket.Delete([]byte(id))
	})
}
