package schedule

import (
	"context"
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

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestNewClockOutSchedulerInvalidTime(t *testing.T) {
	_, err := NewClockOutScheduler(nil, nil, nil, "6pm", zerolog.Nop())
	require.Error(t, err)
}

func TestNextCutoff(t *testing.T) {
	s, err := NewClockOutScheduler(nil, nil, nil, "18:00", zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{now: at(17, 0), want: at(18, 0)},
		{now: at(18, 0), want: at(18, 0).AddDate(0, 0, 1)},
		{now: at(23, 30), want: at(18, 0).AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.NextCutoff(tt.now), "now=%s", tt.now)
	}
}

func TestClockOut(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	clk := clock.NewTestClock(at(18, 45))
	engine := accounting.NewEngine(store, clk, zerolog.Nop())

	early, err := engine.StartSession(ctx, "acct-1", at(9, 0), "aa:bb")
	require.NoError(t, err)
	late, err := engine.StartSession(ctx, "acct-2", at(18, 30), "cc:dd")
	require.NoError(t, err)

	s, err := NewClockOutScheduler(store.Sessions(), engine, clk, "18:00", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 1, s.ClockOut(ctx, at(18, 0)))

	closed, err := store.Sessions().Get(ctx, early)
	require.NoError(t, err)
	require.False(t, closed.Open())
	assert.Equal(t, at(18, 0), closed.ClockOut.UTC())
	assert.Equal(t, 540, closed.TotalWorkMinutes)

	open, err := store.Sessions().Get(ctx, late)
	require.NoError(t, err)
	assert.True(t, open.Open())

	// Nothing left before the cutoff.
	assert.Equal(t, 0, s.ClockOut(ctx, at(18, 0)))
}

func TestClockOutHook(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	clk := clock.NewTestClock(at(18, 45))
	engine := accounting.NewEngine(store, clk, zerolog.Nop())

	early, err := engine.StartSession(ctx, "acct-1", at(9, 0), "aa:bb")
	require.NoError(t, err)
	_, err = engine.StartSession(ctx, "acct-2", at(18, 30), "cc:dd")
	require.NoError(t, err)

	s, err := NewClockOutScheduler(store.Sessions(), engine, clk, "18:00", zerolog.Nop())
	require.NoError(t, err)

	var closed []storage.Session
	s.OnClockOut(func(_ context.Context, session storage.Session) {
		closed = append(closed, session)
	})

	assert.Equal(t, 1, s.ClockOut(ctx, at(18, 0)))
	require.Len(t, closed, 1)
	assert.Equal(t, early, closed[0].ID)
	assert.Equal(t, "acct-1", closed[0].AccountID)
	require.NotNil(t, closed[0].ClockOut)
	assert.Equal(t, at(18, 0), *closed[0].ClockOut)
	assert.Equal(t, 540, closed[0].TotalWorkMinutes)
}

func TestStartStop(t *testing.T) {
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := accounting.NewEngine(store, nil, zerolog.Nop())
	s, err := NewClockOutScheduler(store.Sessions(), engine, nil, "03:00", zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
