package device

import (
	"time"

	"github.com/google/uuid"
)

// State is the singleton live pointer into the event log's most recent
// open session. Exactly one instance exists per device; transitions and
// accepted sync merges rewrite it wholesale.
type State struct {
	ActiveRoleID    *uuid.UUID `json:"activeRoleId,omitempty"`
	ActiveSessionID *uuid.UUID `json:"activeSessionId,omitempty"`
	ActiveStartAt   *time.Time `json:"activeStartAt,omitempty"`
	InTransition    bool       `json:"inTransition"`
	LockUntil       *time.Time `json:"lockUntil,omitempty"`
}

// IsActive reports whether a role is currently running.
func (s State) IsActive() bool {
	return s.ActiveRoleID != nil
}

// IsLocked reports whether the lock window is still in effect at now.
func (s State) IsLocked(now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// LockRemaining is the remaining lock time at now. Callers surface it
// rounded up so nobody ever sees "0 seconds remaining" while locked.
func (s State) LockRemaining(now time.Time) time.Duration {
	if !s.IsLocked(now) {
		return 0
	}
	return s.LockUntil.Sub(now)
}

// Settings are the tunable timing rules persisted alongside the log.
type Settings struct {
	MinSessionSeconds   int `json:"minSessionSeconds"`
	TransitionSeconds   int `json:"transitionSeconds"`
	SyncIntervalSeconds int `json:"syncIntervalSeconds"`
}
