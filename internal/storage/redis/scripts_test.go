package redis

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestCreateSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	tests := []struct {
		name       string
		sessionID  string
		clockOut   string
		wantInOpen bool
	}{
		{name: "open session", sessionID: "session-1", clockOut: "", wantInOpen: true},
		{name: "closed session", sessionID: "session-2", clockOut: "2024-03-04T17:00:00Z", wantInOpen: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := []string{sessionKey(tt.sessionID), keySessionsAll, keySessionsOpen, accountSessionsKey("acct-1")}
			result := client.Eval(ctx, createSessionScript, keys,
				tt.sessionID, "acct-1", "2024-03-04T09:00:00Z", tt.clockOut, "2024-03-04", "dev", 0, 0)
			if result.Err() != nil {
				t.Fatalf("Script execution failed: %v", result.Err())
			}

			if got := client.HGet(ctx, sessionKey(tt.sessionID), "account_id").Val(); got != "acct-1" {
				t.Errorf("Expected account_id acct-1, got %q", got)
			}
			if !client.SIsMember(ctx, keySessionsAll, tt.sessionID).Val() {
				t.Error("Expected session in all set")
			}
			if got := client.SIsMember(ctx, keySessionsOpen, tt.sessionID).Val(); got != tt.wantInOpen {
				t.Errorf("Expected open membership %v, got %v", tt.wantInOpen, got)
			}
		})
	}

	// Creating the same session twice is rejected
	keys := []string{sessionKey("session-1"), keySessionsAll, keySessionsOpen, accountSessionsKey("acct-1")}
	err := client.Eval(ctx, createSessionScript, keys,
		"session-1", "acct-1", "2024-03-04T09:00:00Z", "", "2024-03-04", "dev", 0, 0).Err()
	if err == nil || !strings.HasPrefix(err.Error(), "CONFLICT") {
		t.Fatalf("Expected CONFLICT error, got %v", err)
	}
}

func TestCloseSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()

	err := client.Eval(ctx, closeSessionScript, []string{sessionKey("missing"), keySessionsOpen},
		"missing", "2024-03-04T17:00:00Z", "0", "0").Err()
	if err == nil || !strings.HasPrefix(err.Error(), "NOTFOUND") {
		t.Fatalf("Expected NOTFOUND error, got %v", err)
	}

	mr.HSet(sessionKey("session-1"), "id", "session-1", "clock_out", "")
	if _, err := mr.SAdd(keySessionsOpen, "session-1"); err != nil {
		t.Fatalf("seed open set: %v", err)
	}

	err = client.Eval(ctx, closeSessionScript, []string{sessionKey("session-1"), keySessionsOpen},
		"session-1", "2024-03-04T17:00:00Z", "455", "15").Err()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}

	if got := mr.HGet(sessionKey("session-1"), "total_work_minutes"); got != "455" {
		t.Errorf("Expected total_work_minutes 455, got %q", got)
	}
	if client.SIsMember(ctx, keySessionsOpen, "session-1").Val() {
		t.Error("Expected session removed from open set")
	}
}

func TestAppendEventScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	keys := []string{eventsKey("session-1"), keyEventSeq}

	for i := 0; i < 3; i++ {
		seq, err := client.Eval(ctx, appendEventScript, keys, 1000, `{"event_type":"sleep"}`).Int64()
		if err != nil {
			t.Fatalf("Script execution failed: %v", err)
		}
		if seq != int64(i+1) {
			t.Errorf("Expected seq %d, got %d", i+1, seq)
		}
	}

	members := client.ZRange(ctx, eventsKey("session-1"), 0, -1).Val()
	if len(members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(members))
	}
	if !strings.HasPrefix(members[0], "00000000000000000001:") {
		t.Errorf("Expected zero padded seq prefix, got %q", members[0])
	}
}

func TestUpsertAccountScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	upsert := func(id, username string) error {
		keys := []string{accountKey(id), keyAccounts, usernameKey(username)}
		return client.Eval(ctx, upsertAccountScript, keys,
			id, username, "hash", "employee", "false", "", "2024-03-04T09:00:00Z", "2024-03-04T09:00:00Z", prefixUsername).Err()
	}

	if err := upsert("acct-1", "alice"); err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if err := upsert("acct-2", "alice"); err == nil || !strings.HasPrefix(err.Error(), "CONFLICT") {
		t.Fatalf("Expected CONFLICT for taken username, got %v", err)
	}
	if err := upsert("acct-1", "alicia"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if mr.Exists(usernameKey("alice")) {
		t.Error("Expected old username key removed")
	}
	if got, _ := mr.Get(usernameKey("alicia")); got != "acct-1" {
		t.Errorf("Expected new username to map to acct-1, got %q", got)
	}
}
