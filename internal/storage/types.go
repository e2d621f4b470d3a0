package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the format of Session.SessionDate.
const DateLayout = "2006-01-02"

// EventType identifies a sleep or idle boundary.
type EventType string

const (
	EventSleep     EventType = "sleep"
	EventResume    EventType = "resume"
	EventIdleStart EventType = "idle_start"
	EventIdleEnd   EventType = "idle_end"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSleep, EventResume, EventIdleStart, EventIdleEnd:
		return true
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler to normalize event types to lowercase.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	normalized := EventType(strings.ToLower(s))
	if !normalized.Valid() {
		return fmt.Errorf("invalid event type: %s (must be sleep, resume, idle_start or idle_end)", s)
	}
	*t = normalized
	return nil
}

// Source identifies what produced an event.
type Source string

const (
	SourceSystem Source = "system"
	SourceUser   Source = "user"
	SourceIdle   Source = "idle"
)

// Role is an account role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// Session is one clock-in to clock-out period of an account.
type Session struct {
	ID               string     `json:"id"`
	AccountID        string     `json:"account_id"`
	ClockIn          time.Time  `json:"clock_in"`
	ClockOut         *time.Time `json:"clock_out,omitempty"`
	SessionDate      string     `json:"session_date"`
	DeviceID         string     `json:"device_id"`
	TotalWorkMinutes int        `json:"total_work_minutes"`
	SleepMinutes     int        `json:"sleep_minutes"`
}

// Open reports whether the session has not been clocked out.
func (s Session) Open() bool {
	return s.ClockOut == nil
}

// Event is one boundary of a sleep or idle interval.
type Event struct {
	Seq       int64     `json:"seq"`
	AccountID string    `json:"account_id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"event_type"`
	Time      time.Time `json:"event_time"`
	Source    Source    `json:"source"`
}

// Account is a user that can clock in.
type Account struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	PasswordHash     string    `json:"password_hash"`
	Role             Role      `json:"role"`
	Active           bool      `json:"active"`
	RegisteredDevice string    `json:"registered_device,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SortEvents orders events by time, breaking ties by append order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time.Equal(events[j].Time) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].Time.Before(events[j].Time)
	})
}

// SortSessionsNewestFirst orders sessions by session date then clock-in,
// both descending.
func SortSessionsNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].SessionDate != sessions[j].SessionDate {
			return sessions[i].SessionDate > sessions[j].SessionDate
		}
		return sessions[i].ClockIn.After(sessions[j].ClockIn)
	})
}

// FilterEventTypes keeps the events whose type is in types. No types keeps all.
func FilterEventTypes(events []Event, types ...EventType) []Event {
	if len(types) == 0 {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
