package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/goodtune/timekeeper/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

type fixture struct {
	store  storage.Store
	engine *accounting.Engine
	clock  *clock.TestClock
	agg    *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewTestClock(t0)
	engine := accounting.NewEngine(store, clk, zerolog.Nop())
	return &fixture{
		store:  store,
		engine: engine,
		clock:  clk,
		agg:    NewAggregator(store, engine, clk, zerolog.Nop(), Options{Concurrency: 2}),
	}
}

func (f *fixture) account(t *testing.T, id, username string) {
	t.Helper()
	require.NoError(t, f.store.Accounts().Upsert(context.Background(), storage.Account{
		ID:       id,
		Username: username,
		Role:     storage.RoleEmployee,
		Active:   true,
	}))
}

func (f *fixture) session(t *testing.T, accountID string, clockIn time.Time, device string) string {
	t.Helper()
	id, err := f.engine.StartSession(context.Background(), accountID, clockIn, device)
	require.NoError(t, err)
	return id
}

func (f *fixture) event(t *testing.T, sessionID string, typ storage.EventType, when time.Time) {
	t.Helper()
	require.NoError(t, f.engine.AppendEvent(context.Background(), storage.Event{
		AccountID: "acct-1",
		SessionID: sessionID,
		Type:      typ,
		Time:      when,
		Source:    storage.SourceSystem,
	}))
}

func TestListActiveSessionsWithStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.account(t, "acct-1", "alice")
	f.account(t, "acct-2", "bob")

	alice := f.session(t, "acct-1", at(0), "")
	bob := f.session(t, "acct-2", at(30), "dev-b")
	f.session(t, "acct-ghost", at(45), "dev-g")
	closed := f.session(t, "acct-2", at(-600), "dev-b")
	_, err := f.engine.EndSession(ctx, closed, at(-300))
	require.NoError(t, err)

	f.event(t, alice, storage.EventSleep, at(60))
	f.event(t, alice, storage.EventResume, at(75))
	f.event(t, alice, storage.EventIdleStart, at(100))

	f.clock.Set(at(120))
	statuses := f.agg.ListActiveSessionsWithStatus(ctx)
	require.Len(t, statuses, 2)

	assert.Equal(t, bob, statuses[0].SessionID)
	assert.Equal(t, "bob", statuses[0].Username)
	assert.Equal(t, "dev-b", statuses[0].DeviceID)
	assert.Equal(t, 90, statuses[0].TotalMinutes)
	assert.Equal(t, 90, statuses[0].WorkMinutes)
	assert.False(t, statuses[0].IsIdle)

	got := statuses[1]
	assert.Equal(t, alice, got.SessionID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, UnknownDevice, got.DeviceID)
	assert.Equal(t, 120, got.TotalMinutes)
	assert.Equal(t, 15, got.SleepMinutes)
	assert.Equal(t, 20, got.IdleMinutes)
	assert.True(t, got.IsIdle)
	assert.Equal(t, 20, got.CurrentIdleDuration)
	assert.Equal(t, 85, got.WorkMinutes)
}

func TestListActiveSessionsEmpty(t *testing.T) {
	f := newFixture(t)
	statuses := f.agg.ListActiveSessionsWithStatus(context.Background())
	require.NotNil(t, statuses)
	assert.Empty(t, statuses)
}

var errDown = errors.New("store unavailable")

type failingSessions struct {
	storage.SessionStore
}

func (failingSessions) ListOpen(context.Context) ([]storage.Session, error) { return nil, errDown }
func (failingSessions) List(context.Context, storage.SessionFilter) ([]storage.Session, error) {
	return nil, errDown
}

type brokenSessionsStore struct {
	storage.Store
}

func (s brokenSessionsStore) Sessions() storage.SessionStore {
	return failingSessions{s.Store.Sessions()}
}

func TestListFailSoft(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", "alice")
	f.session(t, "acct-1", at(0), "dev")

	agg := NewAggregator(brokenSessionsStore{f.store}, f.engine, f.clock, zerolog.Nop(), Options{})
	active := agg.ListActiveSessionsWithStatus(context.Background())
	require.NotNil(t, active)
	assert.Empty(t, active)

	history := agg.ListSessions(context.Background(), DateRange{})
	require.NotNil(t, history)
	assert.Empty(t, history)
}

func TestUsernameCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", "alice")
	f.session(t, "acct-1", at(0), "dev")

	require.Len(t, f.agg.ListActiveSessionsWithStatus(ctx), 1)

	// A rename is not visible until the cached entry is dropped.
	f.account(t, "acct-1", "alicia")
	assert.Equal(t, "alice", f.agg.ListActiveSessionsWithStatus(ctx)[0].Username)

	f.agg.Forget("acct-1")
	assert.Equal(t, "alicia", f.agg.ListActiveSessionsWithStatus(ctx)[0].Username)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", "alice")

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)

	first := f.session(t, "acct-1", day1, "dev")
	f.event(t, first, storage.EventSleep, day1.Add(time.Hour))
	f.event(t, first, storage.EventResume, day1.Add(90*time.Minute))
	_, err := f.engine.EndSession(ctx, first, day1.Add(8*time.Hour))
	require.NoError(t, err)

	second := f.session(t, "acct-1", day2, "dev")
	_, err = f.engine.EndSession(ctx, second, day2.Add(4*time.Hour))
	require.NoError(t, err)

	third := f.session(t, "acct-1", day3, "")
	f.event(t, third, storage.EventSleep, day3.Add(time.Hour))
	f.event(t, third, storage.EventResume, day3.Add(70*time.Minute))
	f.clock.Set(day3.Add(2 * time.Hour))

	all := f.agg.ListSessions(ctx, DateRange{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, []string{all[0].SessionID, all[1].SessionID, all[2].SessionID})

	assert.True(t, all[0].Open)
	assert.Equal(t, 10, all[0].SleepMinutes)
	assert.Equal(t, UnknownDevice, all[0].DeviceID)
	assert.False(t, all[2].Open)
	assert.Equal(t, 30, all[2].SleepMinutes)
	assert.Equal(t, 450, all[2].TotalWorkMinutes)

	r, err := ParseDateRange("2024-03-01", "2024-03-02")
	require.NoError(t, err)
	ranged := f.agg.ListSessions(ctx, r)
	require.Len(t, ranged, 2)
	assert.Equal(t, second, ranged[0].SessionID)
	assert.Equal(t, first, ranged[1].SessionID)
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr bool
		wantAll bool
	}{
		{name: "both empty", wantAll: true},
		{name: "valid", from: "2024-03-01", to: "2024-03-31"},
		{name: "single day", from: "2024-03-01", to: "2024-03-01"},
		{name: "missing to", from: "2024-03-01", wantErr: true},
		{name: "missing from", to: "2024-03-01", wantErr: true},
		{name: "bad format", from: "03/01/2024", to: "2024-03-31", wantErr: true},
		{name: "reversed", from: "2024-03-31", to: "2024-03-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseDateRange(tt.from, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDateRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAll, r.IsZero())
		})
	}
}

func TestRefresher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", "alice")
	f.session(t, "acct-1", at(0), "dev")

	r := NewRefresher(f.agg, time.Hour, zerolog.Nop())
	latest, updated := r.Latest()
	assert.Empty(t, latest)
	assert.True(t, updated.IsZero())

	r.Start(ctx)
	defer r.Stop()

	latest, updated = r.Latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "alice", latest[0].Username)
	assert.Equal(t, t0, updated)

	f.session(t, "acct-1", at(5), "dev-2")
	assert.Len(t, r.Refresh(ctx), 2)
	latest, _ = r.Latest()
	assert.Len(t, latest, 2)
}

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, UnknownDevice, DeviceLabel(""))
	assert.Equal(t, "aa:bb:cc:dd", DeviceLabel("aa:bb:cc:dd"))
}
