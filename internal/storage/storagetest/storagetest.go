// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

// Opener returns a fresh, empty store for one subtest.
type Opener func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// Run exercises the storage.Store contract against the backend returned by open.
func Run(t *testing.T, open Opener) {
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, open(t)) })
	t.Run("OpenForAccount", func(t *testing.T) { testOpenForAccount(t, open(t)) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, open(t)) })
	t.Run("EventOrdering", func(t *testing.T) { testEventOrdering(t, open(t)) })
	t.Run("EventTypeFilter", func(t *testing.T) { testEventTypeFilter(t, open(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("DeleteForAccount", func(t *testing.T) { testDeleteForAccount(t, open(t)) })
	t.Run("DeleteEventsBySession", func(t *testing.T) { testDeleteEventsBySession(t, open(t)) })
}

func testSessionLifecycle(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	id, err := store.Sessions().Create(ctx, storage.Session{
		AccountID: "acct-1",
		ClockIn:   base,
		DeviceID:  "aa:bb",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated session id")
	}

	got, err := store.Sessions().Get(ctx, id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.Open() {
		t.Fatal("expected new session to be open")
	}
	if got.SessionDate != "2024-03-04" {
		t.Fatalf("expected session date 2024-03-04, got %s", got.SessionDate)
	}
	if !got.ClockIn.Equal(base) {
		t.Fatalf("expected clock in %v, got %v", base, got.ClockIn)
	}

	open, err := store.Sessions().ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open session, got %d", len(open))
	}

	clockOut := base.Add(8 * time.Hour)
	if err := store.Sessions().Close(ctx, id, clockOut, 455, 15); err != nil {
		t.Fatalf("close session: %v", err)
	}

	got, err = store.Sessions().Get(ctx, id)
	if err != nil {
		t.Fatalf("get closed session: %v", err)
	}
	if got.Open() || !got.ClockOut.Equal(clockOut) {
		t.Fatalf("expected clock out %v, got %v", clockOut, got.ClockOut)
	}
	if got.TotalWorkMinutes != 455 || got.SleepMinutes != 15 {
		t.Fatalf("expected 455/15 minutes, got %d/%d", got.TotalWorkMinutes, got.SleepMinutes)
	}

	open, err = store.Sessions().ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open after close: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open sessions, got %d", len(open))
	}

	if err := store.Sessions().Close(ctx, "missing", clockOut, 0, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound closing missing session, got %v", err)
	}
	if _, err := store.Sessions().Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testOpenForAccount(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, err := store.Sessions().OpenForAccount(ctx, "acct-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no sessions, got %v", err)
	}

	older, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-1", ClockIn: base})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	newer, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-1", ClockIn: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}
	if _, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-2", ClockIn: base.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("create other account: %v", err)
	}

	got, err := store.Sessions().OpenForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("open for account: %v", err)
	}
	if got.ID != newer {
		t.Fatalf("expected newest open session %s, got %s", newer, got.ID)
	}

	if err := store.Sessions().Close(ctx, newer, base.Add(3*time.Hour), 0, 0); err != nil {
		t.Fatalf("close newer: %v", err)
	}
	got, err = store.Sessions().OpenForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("open for account after close: %v", err)
	}
	if got.ID != older {
		t.Fatalf("expected remaining open session %s, got %s", older, got.ID)
	}
}

func testListFilter(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	days := []time.Time{base, base.AddDate(0, 0, 1), base.AddDate(0, 0, 2)}
	for _, day := range days {
		if _, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-1", ClockIn: day}); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	all, err := store.Sessions().List(ctx, storage.SessionFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	if all[0].SessionDate != "2024-03-06" || all[2].SessionDate != "2024-03-04" {
		t.Fatalf("expected newest first, got %s..%s", all[0].SessionDate, all[2].SessionDate)
	}

	from, to := days[1], days[2]
	ranged, err := store.Sessions().List(ctx, storage.SessionFilter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("expected inclusive range to match 2 sessions, got %d", len(ranged))
	}

	other, err := store.Sessions().List(ctx, storage.SessionFilter{AccountID: "acct-2"})
	if err != nil {
		t.Fatalf("list other account: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected 0 sessions for acct-2, got %d", len(other))
	}
}

func testEventOrdering(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	events := []storage.Event{
		{AccountID: "acct-1", SessionID: "s1", Type: storage.EventResume, Time: base.Add(20 * time.Minute), Source: storage.SourceSystem},
		{AccountID: "acct-1", SessionID: "s1", Type: storage.EventSleep, Time: base.Add(10 * time.Minute), Source: storage.SourceSystem},
		{AccountID: "acct-1", SessionID: "s1", Type: storage.EventSleep, Time: base.Add(20 * time.Minute), Source: storage.SourceUser},
		{AccountID: "acct-1", SessionID: "s2", Type: storage.EventSleep, Time: base, Source: storage.SourceSystem},
	}
	for _, event := range events {
		if err := store.Events().Append(ctx, event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := store.Events().Query(ctx, "s1")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for s1, got %d", len(got))
	}
	want := []storage.EventType{storage.EventSleep, storage.EventResume, storage.EventSleep}
	for i, event := range got {
		if event.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], event.Type)
		}
	}
	// Equal timestamps keep append order.
	if got[2].Source != storage.SourceUser {
		t.Fatalf("expected tie broken by append order, got source %s", got[2].Source)
	}
	if !got[0].Time.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("expected event time preserved, got %v", got[0].Time)
	}

	empty, err := store.Events().Query(ctx, "unknown")
	if err != nil {
		t.Fatalf("query unknown session: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events, got %d", len(empty))
	}
}

func testEventTypeFilter(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	types := []storage.EventType{storage.EventIdleStart, storage.EventSleep, storage.EventIdleEnd, storage.EventResume}
	for i, typ := range types {
		event := storage.Event{AccountID: "acct-1", SessionID: "s1", Type: typ, Time: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Events().Append(ctx, event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	idle, err := store.Events().Query(ctx, "s1", storage.EventIdleStart, storage.EventIdleEnd)
	if err != nil {
		t.Fatalf("query idle events: %v", err)
	}
	if len(idle) != 2 || idle[0].Type != storage.EventIdleStart || idle[1].Type != storage.EventIdleEnd {
		t.Fatalf("unexpected idle events: %+v", idle)
	}
}

func testAccounts(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	account := storage.Account{ID: "acct-1", Username: "alice", PasswordHash: "hash", Role: storage.RoleEmployee}
	if err := store.Accounts().Upsert(ctx, account); err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	got, err := store.Accounts().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != "acct-1" || got.Active {
		t.Fatalf("unexpected account: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	if err := store.Accounts().SetActive(ctx, "acct-1", true); err != nil {
		t.Fatalf("set active: %v", err)
	}
	got, err = store.Accounts().Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Active {
		t.Fatal("expected account to be active")
	}

	dup := storage.Account{ID: "acct-2", Username: "alice"}
	if err := store.Accounts().Upsert(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	got.Username = "alice2"
	if err := store.Accounts().Upsert(ctx, *got); err != nil {
		t.Fatalf("rename account: %v", err)
	}
	if _, err := store.Accounts().GetByUsername(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected old username to be released, got %v", err)
	}

	accounts, err := store.Accounts().List(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}

	if err := store.Accounts().Delete(ctx, "acct-1"); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := store.Accounts().Get(ctx, "acct-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Accounts().Delete(ctx, "acct-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func testDeleteForAccount(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	mine, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-1", ClockIn: base})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	theirs, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-2", ClockIn: base})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, sid := range []string{mine, theirs} {
		acct := "acct-1"
		if sid == theirs {
			acct = "acct-2"
		}
		for i := 0; i < 2; i++ {
			event := storage.Event{AccountID: acct, SessionID: sid, Type: storage.EventSleep, Time: base.Add(time.Duration(i) * time.Minute)}
			if err := store.Events().Append(ctx, event); err != nil {
				t.Fatalf("append event: %v", err)
			}
		}
	}

	n, err := store.Events().DeleteForSessions(ctx, mine)
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events deleted, got %d", n)
	}
	n, err = store.Sessions().DeleteForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("delete sessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session deleted, got %d", n)
	}

	if _, err := store.Sessions().Get(ctx, mine); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
	open, err := store.Sessions().ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != theirs {
		t.Fatalf("expected only %s open, got %+v", theirs, open)
	}
	left, err := store.Events().Query(ctx, theirs)
	if err != nil {
		t.Fatalf("query remaining events: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("expected other account events untouched, got %d", len(left))
	}
}

func testDeleteEventsBySession(t *testing.T, store storage.Store) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sid, err := store.Sessions().Create(ctx, storage.Session{AccountID: "acct-1", ClockIn: base})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Ownership comes from the session, not the account stamped on the event.
	for i, acct := range []string{"", "acct-9", "acct-1"} {
		event := storage.Event{AccountID: acct, SessionID: sid, Type: storage.EventSleep, Time: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Events().Append(ctx, event); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	n, err := store.Events().DeleteForSessions(ctx, sid, "no-such-session")
	if err != nil {
		t.Fatalf("delete events: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 events deleted, got %d", n)
	}
	left, err := store.Events().Query(ctx, sid)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("expected no events left, got %+v", left)
	}

	n, err = store.Events().DeleteForSessions(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected empty delete to be a no-op, got %d, %v", n, err)
	}
}
