package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

const (
	keySessionsAll  = "tk:sessions:all"
	keySessionsOpen = "tk:sessions:open"
	keyEventSeq     = "tk:events:seq"
	keyAccounts     = "tk:accounts"
	prefixUsername  = "tk:account:username:"
)

func sessionKey(id string) string         { return "tk:session:" + id }
func accountSessionsKey(id string) string { return "tk:sessions:account:" + id }
func eventsKey(sessionID string) string   { return "tk:events:" + sessionID }
func accountKey(id string) string         { return "tk:account:" + id }
func usernameKey(username string) string  { return prefixUsername + username }

// scriptError maps error replies from the Lua scripts onto storage errors.
func scriptError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "CONFLICT"):
		return fmt.Errorf("%s: %w", strings.ToLower(msg), storage.ErrConflict)
	case strings.HasPrefix(msg, "NOTFOUND"):
		return storage.ErrNotFound
	}
	return err
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	clockIn, err := time.Parse(time.RFC3339Nano, data["clock_in"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse clock_in: %w", err)
	}

	var clockOut *time.Time
	if raw := data["clock_out"]; raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse clock_out: %w", err)
		}
		clockOut = &parsed
	}

	work, err := strconv.Atoi(data["total_work_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_work_minutes: %w", err)
	}

	sleep, err := strconv.Atoi(data["sleep_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse sleep_minutes: %w", err)
	}

	return &storage.Session{
		ID:               data["id"],
		AccountID:        data["account_id"],
		ClockIn:          clockIn,
		ClockOut:         clockOut,
		SessionDate:      data["session_date"],
		DeviceID:         data["device_id"],
		TotalWorkMinutes: work,
		SleepMinutes:     sleep,
	}, nil
}

// parseEventMember decodes a "<seq>:<json>" sorted set member
func parseEventMember(member string) (*storage.Event, error) {
	seqPart, payload, ok := strings.Cut(member, ":")
	if !ok {
		return nil, fmt.Errorf("malformed event member")
	}

	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event seq: %w", err)
	}

	var event storage.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}
	event.Seq = seq

	return &event, nil
}

// parseAccount converts a Redis hash to Account
func parseAccount(data map[string]string) (*storage.Account, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	active, err := strconv.ParseBool(data["active"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse active: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Account{
		ID:               data["id"],
		Username:         data["username"],
		PasswordHash:     data["password_hash"],
		Role:             storage.Role(data["role"]),
		Active:           active,
		RegisteredDevice: data["registered_device"],
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}
