package tracker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/device"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/domain/session"
	"github.com/roleclock/roleclock/internal/store"
)

var (
	// ErrNotActive is returned for switch/end with no running role.
	ErrNotActive = errors.New("no active role")
	// ErrRoleNotFound is returned when the target role does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrTransitionInProgress rejects overlapping transitions.
	ErrTransitionInProgress = errors.New("a transition is already in progress")
	// ErrNoTransition is returned when there is nothing to cancel.
	ErrNoTransition = errors.New("no transition in progress")
)

// LockError rejects a switch/end attempted inside the lock window. The
// remaining time is rounded up so the caller never sees zero seconds
// while still locked.
type LockError struct {
	Remaining int
}

func (e *LockError) Error() string {
	return fmt.Sprintf("locked, %d seconds remaining", e.Remaining)
}

func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// Service is the role session state machine. It owns the single current
// activity, appends events as transition side effects and schedules the
// switch countdown. Each transition completes, including its log write,
// before another may begin.
type Service struct {
	store  *store.Store
	clk    clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	pending *pendingTransition
}

type pendingTransition struct {
	toRoleID uuid.UUID
	commitAt time.Time
	timer    clock.Timer
}

// NewService creates the state machine over the shared store.
func NewService(st *store.Store, clk clock.Clock, logger zerolog.Logger) *Service {
	s := &Service{
		store:  st,
		clk:    clk,
		logger: logger.With().Str("service", "tracker").Logger(),
	}
	// The countdown timer lives only in memory, so an in-transition
	// flag persisted by a previous process is stale: nothing will ever
	// commit or cancel it. Drop it before accepting transitions.
	err := st.Update(func(d *store.Data) error {
		if d.State.InTransition {
			d.State.InTransition = false
			s.logger.Warn().Msg("cleared stale in-transition flag from previous run")
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to clear stale transition flag")
	}
	return s
}

// Start begins a session for the role, from Idle or Active. An active
// session is superseded without an end event; derived history drops the
// abandoned interval. Preserved source behavior.
func (s *Service) Start(roleID uuid.UUID) (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return device.State{}, ErrTransitionInProgress
	}

	now := s.clk.Now()
	var out device.State
	err := s.store.Update(func(d *store.Data) error {
		if store.FindRole(d, roleID) == nil {
			return ErrRoleNotFound
		}
		sessionID := uuid.New()
		d.Events = append(d.Events, event.New(event.TypeStart, roleID, now, event.Meta{SessionID: sessionID}))
		lockUntil := now.Add(time.Duration(d.Settings.MinSessionSeconds) * time.Second)
		startAt := now
		d.State = device.State{
			ActiveRoleID:    &roleID,
			ActiveSessionID: &sessionID,
			ActiveStartAt:   &startAt,
			LockUntil:       &lockUntil,
		}
		out = d.State
		return nil
	})
	if err != nil {
		return device.State{}, err
	}
	s.logger.Info().Str("role_id", roleID.String()).Msg("session started")
	return out, nil
}

// Switch requests a change to another role. Rejected while locked with
// the remaining seconds; otherwise a countdown starts and the switch
// commits when it expires.
func (s *Service) Switch(roleID uuid.UUID) (commitAt time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return time.Time{}, ErrTransitionInProgress
	}

	now := s.clk.Now()
	var delay time.Duration
	err = s.store.Update(func(d *store.Data) error {
		if !d.State.IsActive() {
			return ErrNotActive
		}
		if d.State.IsLocked(now) {
			return &LockError{Remaining: remainingSeconds(d.State.LockRemaining(now))}
		}
		if store.FindRole(d, roleID) == nil {
			return ErrRoleNotFound
		}
		delay = time.Duration(d.Settings.TransitionSeconds) * time.Second
		d.State.InTransition = true
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	commitAt = now.Add(delay)
	p := &pendingTransition{toRoleID: roleID, commitAt: commitAt}
	p.timer = s.clk.AfterFunc(delay, func() { s.commit(p) })
	s.pending = p
	s.logger.Info().
		Str("role_id", roleID.String()).
		Time("commit_at", commitAt).
		Msg("transition started")
	return commitAt, nil
}

// commit finishes the countdown: append the switch event and rewrite
// state to the new role with a fresh lock window.
func (s *Service) commit(p *pendingTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != p {
		// Cancelled after the timer fired.
		return
	}
	s.pending = nil

	now := s.clk.Now()
	err := s.store.Update(func(d *store.Data) error {
		if !d.State.IsActive() {
			return ErrNotActive
		}
		fromRoleID := *d.State.ActiveRoleID
		sessionID := uuid.New()
		d.Events = append(d.Events, event.New(event.TypeSwitch, p.toRoleID, now, event.Meta{
			SessionID:  sessionID,
			FromRoleID: &fromRoleID,
		}))
		lockUntil := now.Add(time.Duration(d.Settings.MinSessionSeconds) * time.Second)
		startAt := now
		toRoleID := p.toRoleID
		d.State = device.State{
			ActiveRoleID:    &toRoleID,
			ActiveSessionID: &sessionID,
			ActiveStartAt:   &startAt,
			LockUntil:       &lockUntil,
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("role_id", p.toRoleID.String()).Msg("transition commit failed")
		return
	}
	s.logger.Info().Str("role_id", p.toRoleID.String()).Msg("transition committed")
}

// CancelTransition aborts a running countdown. State reverts to the
// pre-transition role with its lock unchanged; a cancelTransition event
// records the aborted target.
func (s *Service) CancelTransition() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoTransition
	}
	p := s.pending
	p.timer.Stop()
	s.pending = nil

	now := s.clk.Now()
	err := s.store.Update(func(d *store.Data) error {
		meta := event.Meta{}
		if d.State.ActiveSessionID != nil {
			meta.SessionID = *d.State.ActiveSessionID
		}
		d.Events = append(d.Events, event.New(event.TypeCancelTransition, p.toRoleID, now, meta))
		d.State.InTransition = false
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("role_id", p.toRoleID.String()).Msg("transition cancelled")
	return nil
}

// End closes the active session, recording its duration. Rejected while
// locked or mid-transition.
func (s *Service) End() (device.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return device.State{}, ErrTransitionInProgress
	}

	now := s.clk.Now()
	err := s.store.Update(func(d *store.Data) error {
		if !d.State.IsActive() {
			return ErrNotActive
		}
		if d.State.IsLocked(now) {
			return &LockError{Remaining: remainingSeconds(d.State.LockRemaining(now))}
		}
		meta := event.Meta{}
		if d.State.ActiveSessionID != nil {
			meta.SessionID = *d.State.ActiveSessionID
		}
		if d.State.ActiveStartAt != nil {
			meta.DurationSeconds = float64(now.Sub(*d.State.ActiveStartAt).Milliseconds()) / 1000.0
		}
		d.Events = append(d.Events, event.New(event.TypeEnd, *d.State.ActiveRoleID, now, meta))
		d.State = device.State{}
		return nil
	})
	if err != nil {
		return device.State{}, err
	}
	s.logger.Info().Msg("session ended")
	return device.State{}, nil
}

// Status describes the live state for callers.
type Status struct {
	IsActive          bool             `json:"isActive"`
	CurrentRole       *role.Role       `json:"currentRole,omitempty"`
	CurrentSession    *session.Session `json:"currentSession,omitempty"`
	IsLocked          bool             `json:"isLocked"`
	LockTimeRemaining *int             `json:"lockTimeRemaining,omitempty"`
	InTransition      bool             `json:"inTransition"`
	TransitionRoleID  *uuid.UUID       `json:"transitionRoleId,omitempty"`
}

// Status reports the current activity, lock and transition state.
func (s *Service) Status() Status {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	now := s.clk.Now()
	var st Status
	s.store.View(func(d *store.Data) {
		st.IsActive = d.State.IsActive()
		st.InTransition = d.State.InTransition
		if d.State.ActiveRoleID != nil {
			r := store.ResolveRole(d, *d.State.ActiveRoleID)
			st.CurrentRole = &r
		}
		if d.State.ActiveSessionID != nil && d.State.ActiveStartAt != nil {
			st.CurrentSession = &session.Session{
				SessionID: *d.State.ActiveSessionID,
				RoleID:    *d.State.ActiveRoleID,
				StartAt:   *d.State.ActiveStartAt,
				Notes:     d.Notes[*d.State.ActiveSessionID],
			}
		}
		if d.State.IsLocked(now) {
			st.IsLocked = true
			rem := remainingSeconds(d.State.LockRemaining(now))
			st.LockTimeRemaining = &rem
		}
	})
	if pending != nil {
		to := pending.toRoleID
		st.TransitionRoleID = &to
	}
	return st
}
