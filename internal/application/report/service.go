package report

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/session"
	"github.com/roleclock/roleclock/internal/store"
)

var (
	// ErrSessionNotFound is returned when a note references a session
	// the log cannot derive.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoteNotFound is returned for unknown note ids.
	ErrNoteNotFound = errors.New("note not found")
)

// Service exposes the read projections: derived sessions, the raw
// event log, notes and analytics. It never mutates roles, events or
// state except for note bookkeeping.
type Service struct {
	store  *store.Store
	clk    clock.Clock
	logger zerolog.Logger
}

// NewService creates a report service.
func NewService(st *store.Store, clk clock.Clock, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		clk:    clk,
		logger: logger.With().Str("service", "report").Logger(),
	}
}

// Sessions derives session intervals for the window, optionally
// filtered by role, with notes attached.
func (s *Service) Sessions(from, to *time.Time, roleID *uuid.UUID) []session.Session {
	var out []session.Session
	s.store.View(func(d *store.Data) {
		derived := session.Derive(d.Events, from, to)
		out = make([]session.Session, 0, len(derived))
		for _, sess := range derived {
			if roleID != nil && sess.RoleID != *roleID {
				continue
			}
			sess.Notes = d.Notes[sess.SessionID]
			out = append(out, sess)
		}
	})
	return out
}

// Events returns log records matching the filters, in log order.
func (s *Service) Events(from, to *time.Time, roleID *uuid.UUID, typ event.Type) []event.Event {
	var out []event.Event
	s.store.View(func(d *store.Data) {
		filtered := event.FilterRange(d.Events, from, to)
		out = make([]event.Event, 0, len(filtered))
		for _, ev := range filtered {
			if roleID != nil && ev.RoleID != *roleID {
				continue
			}
			if typ != "" && ev.Type != typ {
				continue
			}
			out = append(out, ev)
		}
	})
	return out
}

// AddNote attaches a note to a derived session.
func (s *Service) AddNote(sessionID uuid.UUID, text string) (*session.Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	note := session.NewNote(text)
	err := s.store.Update(func(d *store.Data) error {
		if !sessionExists(d, sessionID) {
			return ErrSessionNotFound
		}
		d.Notes[sessionID] = append(d.Notes[sessionID], note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateNote rewrites a note's text.
func (s *Service) UpdateNote(noteID uuid.UUID, text string) (*session.Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	var updated *session.Note
	err := s.store.Update(func(d *store.Data) error {
		for sid, notes := range d.Notes {
			for i := range notes {
				if notes[i].NoteID == noteID {
					notes[i].Text = text
					d.Notes[sid] = notes
					cp := notes[i]
					updated = &cp
					return nil
				}
			}
		}
		return ErrNoteNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(noteID uuid.UUID) error {
	return s.store.Update(func(d *store.Data) error {
		for sid, notes := range d.Notes {
			for i := range notes {
				if notes[i].NoteID == noteID {
					d.Notes[sid] = append(notes[:i], notes[i+1:]...)
					return nil
				}
			}
		}
		return ErrNoteNotFound
	})
}

func sessionExists(d *store.Data, sessionID uuid.UUID) bool {
	if d.State.ActiveSessionID != nil && *d.State.ActiveSessionID == sessionID {
		return true
	}
	for _, sess := range session.Derive(d.Events, nil, nil) {
		if sess.SessionID == sessionID {
			return true
		}
	}
	return false
}

// RoleBreakdown aggregates time per role.
type RoleBreakdown struct {
	RoleID       uuid.UUID `json:"roleId"`
	RoleName     string    `json:"roleName"`
	Sessions     int       `json:"sessions"`
	TotalSeconds float64   `json:"totalSeconds"`
}

// DailyBreakdown aggregates time per calendar day (UTC).
type DailyBreakdown struct {
	Date         string  `json:"date"`
	Sessions     int     `json:"sessions"`
	TotalSeconds float64 `json:"totalSeconds"`
}

// Analytics summarizes the window.
type Analytics struct {
	TotalSessions  int              `json:"totalSessions"`
	TotalSeconds   float64          `json:"totalSeconds"`
	RoleBreakdown  []RoleBreakdown  `json:"roleBreakdown"`
	DailyBreakdown []DailyBreakdown `json:"dailyBreakdown"`
}

// Analytics computes totals and per-role/per-day breakdowns from the
// derived sessions. Open sessions are measured up to now.
func (s *Service) Analytics(from, to *time.Time) Analytics {
	now := s.clk.Now()
	out := Analytics{
		RoleBreakdown:  []RoleBreakdown{},
		DailyBreakdown: []DailyBreakdown{},
	}
	s.store.View(func(d *store.Data) {
		sessions := session.Derive(d.Events, from, to)
		byRole := map[uuid.UUID]*RoleBreakdown{}
		byDay := map[string]*DailyBreakdown{}
		for _, sess := range sessions {
			dur := sess.DurationSeconds(now)
			out.TotalSessions++
			out.TotalSeconds += dur

			rb, ok := byRole[sess.RoleID]
			if !ok {
				r := store.ResolveRole(d, sess.RoleID)
				rb = &RoleBreakdown{RoleID: sess.RoleID, RoleName: r.Name}
				byRole[sess.RoleID] = rb
			}
			rb.Sessions++
			rb.TotalSeconds += dur

			day := sess.StartAt.UTC().Format("2006-01-02")
			db, ok := byDay[day]
			if !ok {
				db = &DailyBreakdown{Date: day}
				byDay[day] = db
			}
			db.Sessions++
			db.TotalSeconds += dur
		}
		for _, rb := range byRole {
			out.RoleBreakdown = append(out.RoleBreakdown, *rb)
		}
		for _, db := range byDay {
			out.DailyBreakdown = append(out.DailyBreakdown, *db)
		}
	})
	sort.Slice(out.RoleBreakdown, func(i, j int) bool {
		return out.RoleBreakdown[i].TotalSeconds > out.RoleBreakdown[j].TotalSeconds
	})
	sort.Slice(out.DailyBreakdown, func(i, j int) bool {
		return out.DailyBreakdown[i].Date < out.DailyBreakdown[j].Date
	})
	return out
}
