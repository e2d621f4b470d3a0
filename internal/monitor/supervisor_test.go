package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/timekeeper/internal/clock"
	"github.com/rs/zerolog"
)

func newTestSupervisor(source *fakeIdleSource, signals ...SignalSource) (*Supervisor, *fakeSink, *clock.TestClock) {
	sink := &fakeSink{}
	clk := clock.NewTestClock(t0)
	s := NewSupervisor(sink, clk, SupervisorConfig{
		Idle: IdleConfig{Threshold: 5 * time.Minute, PollInterval: time.Hour},
	}, zerolog.Nop())
	s.idleSource = func(context.Context) (IdleSource, error) {
		if source.err != nil {
			return nil, source.err
		}
		return source, nil
	}
	s.signalSources = func() []SignalSource { return signals }
	return s, sink, clk
}

func TestSupervisorStartIdle(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSupervisor(&fakeIdleSource{})
	defer s.StopAll()

	if d := s.StartIdle(ctx, "acct-1", "session-1", 0); d == nil {
		t.Fatal("expected detector")
	}
	if s.Active() != 1 {
		t.Fatalf("expected 1 active detector, got %d", s.Active())
	}

	s.StopIdle("acct-1", "session-1")
	if s.Active() != 0 {
		t.Fatalf("expected 0 active detectors, got %d", s.Active())
	}

	// Stopping an unknown session is harmless.
	s.StopIdle("acct-1", "missing")
}

func TestSupervisorStartIdleReplaces(t *testing.T) {
	ctx := context.Background()
	source := &fakeIdleSource{idle: 10 * time.Minute}
	s, sink, clk := newTestSupervisor(source)
	defer s.StopAll()

	first := s.StartIdle(ctx, "acct-1", "session-1", 0)
	clk.Advance(2 * time.Minute)
	second := s.StartIdle(ctx, "acct-1", "session-1", 0)
	if first == nil || second == nil || first == second {
		t.Fatal("expected a fresh detector")
	}
	if s.Active() != 1 {
		t.Fatalf("expected 1 active detector after replace, got %d", s.Active())
	}

	// The replaced detector closed its idle interval; the new one opened another.
	types := sink.types()
	if len(types) != 3 || types[0] != "idle_start" || types[1] != "idle_end" || types[2] != "idle_start" {
		t.Fatalf("unexpected events: %v", types)
	}
	if source.closed() != 1 {
		t.Fatalf("expected the replaced detector to close its source once, got %d", source.closed())
	}
}

func TestSupervisorStartIdleThreshold(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		threshold time.Duration
		wantIdle  bool
	}{
		{name: "configured default", threshold: 0, wantIdle: false},
		{name: "shorter per call", threshold: time.Minute, wantIdle: true},
		{name: "longer per call", threshold: 10 * time.Minute, wantIdle: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sink, _ := newTestSupervisor(&fakeIdleSource{idle: 2 * time.Minute})
			defer s.StopAll()

			if d := s.StartIdle(ctx, "acct-1", "session-1", tt.threshold); d == nil {
				t.Fatal("expected detector")
			}
			status := s.IdleStatus(ctx, "acct-1", "session-1")
			if status.IsIdle != tt.wantIdle {
				t.Fatalf("expected idle=%v with threshold %v, got %+v", tt.wantIdle, tt.threshold, status)
			}
			if tt.wantIdle && len(sink.recorded()) != 1 {
				t.Fatalf("expected one idle_start, got %v", sink.types())
			}
		})
	}
}

func TestSupervisorWatchThreshold(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSupervisor(&fakeIdleSource{idle: 2 * time.Minute})
	defer s.StopAll()

	s.Watch(ctx, "acct-1", "session-1", time.Minute)
	s.Watch(ctx, "acct-2", "session-2", 0)

	if !s.IdleStatus(ctx, "acct-1", "session-1").IsIdle {
		t.Fatal("expected session watched with a 1m threshold to be idle")
	}
	if s.IdleStatus(ctx, "acct-2", "session-2").IsIdle {
		t.Fatal("expected session watched with the default threshold to be active")
	}
}

func TestSupervisorClosesSourceOnFailedStart(t *testing.T) {
	ctx := context.Background()
	source := &fakeIdleSource{err: errUnavailable}
	s := NewSupervisor(&fakeSink{}, clock.NewTestClock(t0), SupervisorConfig{}, zerolog.Nop())
	s.idleSource = func(context.Context) (IdleSource, error) { return source, nil }

	if d := s.StartIdle(ctx, "acct-1", "session-1", 0); d != nil {
		t.Fatal("expected no detector when the first sample fails")
	}
	if source.closed() != 1 {
		t.Fatalf("expected source closed once, got %d", source.closed())
	}
}

func TestSupervisorProbeFailure(t *testing.T) {
	ctx := context.Background()
	s, sink, _ := newTestSupervisor(&fakeIdleSource{err: errUnavailable})

	if d := s.StartIdle(ctx, "acct-1", "session-1", 0); d != nil {
		t.Fatal("expected no detector when the source is unavailable")
	}
	if s.Active() != 0 {
		t.Fatalf("expected 0 active detectors, got %d", s.Active())
	}
	if status := s.IdleStatus(ctx, "acct-1", "session-1"); status != (IdleStatus{}) {
		t.Fatalf("expected zero status, got %+v", status)
	}
	if len(sink.recorded()) != 0 {
		t.Fatalf("expected no events, got %v", sink.types())
	}
}

func TestSupervisorIdleStatus(t *testing.T) {
	ctx := context.Background()
	source := &fakeIdleSource{idle: 6 * time.Minute}
	s, _, clk := newTestSupervisor(source)
	defer s.StopAll()

	s.StartIdle(ctx, "acct-1", "session-1", 0)
	clk.Advance(4 * time.Minute)

	status := s.IdleStatus(ctx, "acct-1", "session-1")
	if !status.IsIdle || status.TotalIdleMinutes != 4 || status.CurrentIdleSeconds != 360 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status := s.IdleStatus(ctx, "acct-2", "session-1"); status != (IdleStatus{}) {
		t.Fatalf("expected zero status for another account, got %+v", status)
	}
}

func TestSupervisorWatchAndStopAll(t *testing.T) {
	ctx := context.Background()
	power := newFakeSignalSource("power")
	s, sink, _ := newTestSupervisor(&fakeIdleSource{}, power)

	s.Watch(ctx, "acct-1", "session-1", 0)
	s.Watch(ctx, "acct-2", "session-2", 0)
	if s.Active() != 2 {
		t.Fatalf("expected 2 active detectors, got %d", s.Active())
	}

	power.ch <- Signal{Kind: SignalSuspend}
	events := waitForEvents(t, sink, 1)
	if events[0].Type != "sleep" {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	s.Unwatch("acct-2", "session-2")
	if s.Active() != 1 {
		t.Fatalf("expected 1 active detector, got %d", s.Active())
	}

	s.StopAll()
	if s.Active() != 0 {
		t.Fatalf("expected 0 active detectors, got %d", s.Active())
	}
}
