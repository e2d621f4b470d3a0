package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Create persists a new session and its index entries
func (s *sessionStore) Create(ctx context.Context, session storage.Session) (string, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.SessionDate == "" {
		session.SessionDate = session.ClockIn.Format(storage.DateLayout)
	}

	script := redis.NewScript(createSessionScript)
	keys := []string{
		sessionKey(session.ID),
		keySessionsAll,
		keySessionsOpen,
		accountSessionsKey(session.AccountID),
	}
	args := []interface{}{
		session.ID,
		session.AccountID,
		session.ClockIn.Format(time.RFC3339Nano),
		formatTime(session.ClockOut),
		session.SessionDate,
		session.DeviceID,
		session.TotalWorkMinutes,
		session.SleepMinutes,
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return "", scriptError(err)
	}
	return session.ID, nil
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}

// Close records clock-out values
func (s *sessionStore) Close(ctx context.Context, id string, clockOut time.Time, workMinutes, sleepMinutes int) error {
	script := redis.NewScript(closeSessionScript)
	keys := []string{sessionKey(id), keySessionsOpen}
	args := []interface{}{
		id,
		clockOut.Format(time.RFC3339Nano),
		strconv.Itoa(workMinutes),
		strconv.Itoa(sleepMinutes),
	}
	return scriptError(script.Run(ctx, s.client, keys, args...).Err())
}

// OpenForAccount returns the newest open session of an account
func (s *sessionStore) OpenForAccount(ctx context.Context, accountID string) (*storage.Session, error) {
	ids, err := s.client.SInter(ctx, keySessionsOpen, accountSessionsKey(accountID)).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	var newest *storage.Session
	for i := range sessions {
		if newest == nil || sessions[i].ClockIn.After(newest.ClockIn) {
			newest = &sessions[i]
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}
	return newest, nil
}

// List returns sessions matching the filter, newest first
func (s *sessionStore) List(ctx context.Context, filter storage.SessionFilter) ([]storage.Session, error) {
	index := keySessionsAll
	if filter.AccountID != "" {
		index = accountSessionsKey(filter.AccountID)
	}
	if filter.OpenOnly {
		index = keySessionsOpen
	}

	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.fetch(ctx, ids)
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

// ListOpen returns every open session
func (s *sessionStore) ListOpen(ctx context.Context) ([]storage.Session, error) {
	return s.List(ctx, storage.SessionFilter{OpenOnly: true})
}

// DeleteForAccount removes all sessions belonging to an account
func (s *sessionStore) DeleteForAccount(ctx context.Context, accountID string) (int, error) {
	ids, err := s.client.SMembers(ctx, accountSessionsKey(accountID)).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, sessionKey(id))
		}
		pipe.SRem(ctx, keySessionsAll, members...)
		pipe.SRem(ctx, keySessionsOpen, members...)
		pipe.Del(ctx, accountSessionsKey(accountID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// fetch loads session hashes in one pipeline, skipping missing entries
func (s *sessionStore) fetch(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}
