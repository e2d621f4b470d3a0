package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Create(ctx context.Context, session storage.Session) (string, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.SessionDate == "" {
		session.SessionDate = session.ClockIn.Format(storage.DateLayout)
	}

	data, err := marshal(session)
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		if b.Get([]byte(session.ID)) != nil {
			return storage.ErrConflict
		}
		if err := b.Put([]byte(session.ID), data); err != nil {
			return err
		}
		if !session.Open() {
			return nil
		}
		open, err := indexBucket(tx, bucketIndexOpen)
		if err != nil {
			return err
		}
		return open.Put([]byte(session.ID), []byte(session.AccountID))
	})
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	return getBucketValue[storage.Session](ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) Close(ctx context.Context, id string, clockOut time.Time, workMinutes, sleepMinutes int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(id))
		if value == nil {
			return storage.ErrNotFound
		}
		var session storage.Session
		if err := unmarshal(value, &session); err != nil {
			return err
		}

		session.ClockOut = &clockOut
		session.TotalWorkMinutes = workMinutes
		session.SleepMinutes = sleepMinutes

		data, err := marshal(session)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), data); err != nil {
			return err
		}

		open, err := indexBucket(tx, bucketIndexOpen)
		if err != nil {
			return err
		}
		return open.Delete([]byte(id))
	})
}

func (s *sessionStore) OpenForAccount(ctx context.Context, accountID string) (*storage.Session, error) {
	open, err := s.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	var newest *storage.Session
	for i := range open {
		if open[i].AccountID != accountID {
			continue
		}
		if newest == nil || open[i].ClockIn.After(newest.ClockIn) {
			newest = &open[i]
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	return newest, nil
}

func (s *sessionStore) List(ctx context.Context, filter storage.SessionFilter) ([]storage.Session, error) {
	sessions, err := listBucket[storage.Session](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	filtered := make([]storage.Session, 0, len(sessions))
	for _, session := range sessions {
		if filter.Matches(session) {
			filtered = append(filtered, session)
		}
	}
	storage.SortSessionsNewestFirst(filtered)
	return filtered, nil
}

func (s *sessionStore) ListOpen(ctx context.Context) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		open, err := indexBucket(tx, bucketIndexOpen)
		if err != nil {
			return err
		}
		return open.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			value := b.Get(k)
			if value == nil {
				return nil
			}
			var session storage.Session
			if err := unmarshal(value, &session); err != nil {
				return err
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	storage.SortSessionsNewestFirst(sessions)
	return sessions, nil
}

func (s *sessionStore) DeleteForAccount(ctx context.Context, accountID string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		open, err := indexBucket(tx, bucketIndexOpen)
		if err != nil {
			return err
		}
		var keys [][]byte
		err = b.ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.AccountID == accountID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			if err := open.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
