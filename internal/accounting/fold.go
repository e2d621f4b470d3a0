package accounting

import (
	"time"

	"github.com/goodtune/timekeeper/internal/storage"
)

// FoldSleep sums closed sleep→resume intervals. Events must be ordered.
// A later sleep replaces a pending one, a resume with nothing pending is
// ignored and a trailing sleep contributes nothing.
func FoldSleep(events []storage.Event) time.Duration {
	total, _ := fold(events, storage.EventSleep, storage.EventResume)
	return total
}

// FoldIdle sums closed idle_start→idle_end intervals plus, when the last
// interval is still open, the time from its start until now.
func FoldIdle(events []storage.Event, now time.Time) time.Duration {
	total, pending := fold(events, storage.EventIdleStart, storage.EventIdleEnd)
	if pending != nil && now.After(*pending) {
		total += now.Sub(*pending)
	}
	return total
}

// Minutes truncates a duration to whole minutes.
func Minutes(d time.Duration) int {
	return int(d / time.Minute)
}

func fold(events []storage.Event, start, end storage.EventType) (time.Duration, *time.Time) {
	var (
		total   time.Duration
		pending *time.Time
	)
	for i := range events {
		switch events[i].Type {
		case start:
			at := events[i].Time
			pending = &at
		case end:
			if pending == nil {
				continue
			}
			total += events[i].Time.Sub(*pending)
			pending = nil
		}
	}
	return total, pending
}

// lastIdleStart returns the start of the open idle interval, if any. The
// session is idle when its most recent idle event is an idle_start.
func lastIdleStart(events []storage.Event) (time.Time, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Type {
		case storage.EventIdleStart:
			return events[i].Time, true
		case storage.EventIdleEnd:
			return time.Time{}, false
		}
	}
	return time.Time{}, false
}
