package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/timekeeper/internal/storage"
	"go.etcd.io/bbolt"
)

// eventStore keeps one nested bucket per session under the events bucket.
type eventStore struct {
	db *bbolt.DB
}

func (s *eventStore) Append(ctx context.Context, event storage.Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("event missing session id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketEvents))
		if root == nil {
			return fmt.Errorf("events bucket missing")
		}
		b, err := root.CreateBucketIfNotExists([]byte(event.SessionID))
		if err != nil {
			return fmt.Errorf("create session events bucket: %w", err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.Seq = int64(seq)
		data, err := marshal(event)
		if err != nil {
			return err
		}
		return b.Put(eventKey(event.Time, seq), data)
	})
}

func (s *eventStore) Query(ctx context.Context, sessionID string, types ...storage.EventType) ([]storage.Event, error) {
	events := make([]storage.Event, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketEvents))
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var event storage.Event
			if err := unmarshal(v, &event); err != nil {
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	storage.SortEvents(events)
	return storage.FilterEventTypes(events, types...), nil
}

func (s *eventStore) DeleteForSessions(ctx context.Context, sessionIDs ...string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketEvents))
		if root == nil {
			return nil
		}

		for _, id := range sessionIDs {
			b := root.Bucket([]byte(id))
			if b == nil {
				continue
			}
			n := b.Stats().KeyN
			if err := root.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("delete session events %s: %w", id, err)
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
