package event

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type classifies a transition event.
type Type string

const (
	TypeStart            Type = "start"
	TypeEnd              Type = "end"
	TypeSwitch           Type = "switch"
	TypeCancelTransition Type = "cancelTransition"
)

// Meta carries per-event metadata. SessionID links the start/switch/end
// events of one logical session; FromRoleID is set on switch events;
// DurationSeconds is recorded on end events.
type Meta struct {
	SessionID       uuid.UUID  `json:"sessionId,omitempty"`
	FromRoleID      *uuid.UUID `json:"fromRoleId,omitempty"`
	DurationSeconds float64    `json:"durationSeconds,omitempty"`
}

// Event is an immutable log record of a role-session transition. Events
// are only ever appended; session intervals are derived, never stored.
type Event struct {
	EventID uuid.UUID `json:"eventId"`
	Type    Type      `json:"type"`
	RoleID  uuid.UUID `json:"roleId"`
	At      time.Time `json:"at"`
	Meta    Meta      `json:"meta"`
}

// New builds an event with a fresh id.
func New(t Type, roleID uuid.UUID, at time.Time, meta Meta) Event {
	return Event{
		EventID: uuid.New(),
		Type:    t,
		RoleID:  roleID,
		At:      at.UTC(),
		Meta:    meta,
	}
}

// SortByTime orders events ascending by timestamp. The sort is stable
// so ties keep original log order, which keeps derivation deterministic.
func SortByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})
}

// FilterRange keeps events whose timestamp falls inside [from, to].
// Nil bounds are open. Filtering happens on event timestamps, not on
// the sessions later derived from them.
func FilterRange(events []Event, from, to *time.Time) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if from != nil && ev.At.Before(*from) {
			continue
		}
		if to != nil && ev.At.After(*to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
