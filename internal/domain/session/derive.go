package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/event"
)

// Derive folds an event sequence into session intervals. It is a pure
// projection: no side effects, identical output on identical input, and
// it never fails — malformed sequences degrade to partial session lists.
//
// The optional window filters individual event timestamps before the
// fold, not the resulting intervals. A session whose start predates the
// window will not appear even if it ends inside it, and a session that
// starts inside the window but never closes stays open past the upper
// bound. Both behaviors are intentional and regression-tested.
func Derive(events []event.Event, from, to *time.Time) []Session {
	filtered := event.FilterRange(events, from, to)
	ordered := make([]event.Event, len(filtered))
	copy(ordered, filtered)
	event.SortByTime(ordered)

	out := []Session{}
	var open *Session

	for _, ev := range ordered {
		switch ev.Type {
		case event.TypeStart:
			// A start on top of an open session supersedes it without
			// recording an end. Preserved source behavior; the
			// abandoned interval is simply dropped.
			open = &Session{
				SessionID: sessionIDFor(ev),
				RoleID:    ev.RoleID,
				StartAt:   ev.At,
			}
		case event.TypeSwitch:
			if open != nil {
				end := ev.At
				open.EndAt = &end
				out = append(out, *open)
			}
			open = &Session{
				SessionID: sessionIDFor(ev),
				RoleID:    ev.RoleID,
				StartAt:   ev.At,
			}
		case event.TypeEnd:
			// An end for a role other than the open one is a no-op.
			if open != nil && open.RoleID == ev.RoleID {
				end := ev.At
				open.EndAt = &end
				out = append(out, *open)
				open = nil
			}
		case event.TypeCancelTransition:
			// Informational only; never opens or closes a session.
		}
	}

	if open != nil {
		out = append(out, *open)
	}
	return out
}

func sessionIDFor(ev event.Event) uuid.UUID {
	if ev.Meta.SessionID != uuid.Nil {
		return ev.Meta.SessionID
	}
	return ev.EventID
}
