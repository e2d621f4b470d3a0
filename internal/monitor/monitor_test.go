package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeIdleSource struct {
	mu     sync.Mutex
	idle   time.Duration
	err    error
	closes int
}

func (s *fakeIdleSource) Name() string { return "fake" }

func (s *fakeIdleSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeIdleSource) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeIdleSource) IdleDuration(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle, s.err
}

func (s *fakeIdleSource) set(d time.Duration) {
	s.mu.Lock()
	s.idle = d
	s.mu.Unlock()
}

type fakeSink struct {
	mu     sync.Mutex
	events []storage.Event
	err    error
}

func (s *fakeSink) AppendEvent(_ context.Context, event storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) recorded() []storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Event(nil), s.events...)
}

func (s *fakeSink) types() []storage.EventType {
	var types []storage.EventType
	for _, e := range s.recorded() {
		types = append(types, e.Type)
	}
	return types
}

type fakeSignalSource struct {
	name string
	ch   chan Signal
	err  error
}

func newFakeSignalSource(name string) *fakeSignalSource {
	return &fakeSignalSource{name: name, ch: make(chan Signal)}
}

func (s *fakeSignalSource) Name() string { return s.name }

func (s *fakeSignalSource) Watch(ctx context.Context) (<-chan Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan Signal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-s.ch:
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var errUnavailable = errors.New("source unavailable")
