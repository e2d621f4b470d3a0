package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/redis/go-redis/v9"
)

type eventStore struct {
	client *redis.Client
}

// Append adds an event to the session's sorted set, scored in microseconds
func (s *eventStore) Append(ctx context.Context, event storage.Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("event missing session id")
	}

	event.Seq = 0
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	script := redis.NewScript(appendEventScript)
	keys := []string{
		eventsKey(event.SessionID),
		keyEventSeq,
	}
	args := []interface{}{
		event.Time.UnixMicro(),
		string(payload),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Query returns a session's events in time order
func (s *eventStore) Query(ctx context.Context, sessionID string, types ...storage.EventType) ([]storage.Event, error) {
	members, err := s.client.ZRange(ctx, eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]storage.Event, 0, len(members))
	for _, member := range members {
		event, err := parseEventMember(member)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	storage.SortEvents(events)
	return storage.FilterEventTypes(events, types...), nil
}

// DeleteForSessions removes the event logs of the given sessions
func (s *eventStore) DeleteForSessions(ctx context.Context, sessionIDs ...string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	counts := make([]*redis.IntCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		counts[i] = pipe.ZCard(ctx, eventsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	deleted := 0
	keys := make([]string, 0, len(sessionIDs))
	for i, id := range sessionIDs {
		deleted += int(counts[i].Val())
		keys = append(keys, eventsKey(id))
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return deleted, nil
}
