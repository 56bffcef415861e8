package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a derived interval during which one role was active. It
// exists only as deriver output and is never persisted directly. A nil
// EndAt marks the currently active session.
type Session struct {
	SessionID uuid.UUID  `json:"sessionId"`
	RoleID    uuid.UUID  `json:"roleId"`
	StartAt   time.Time  `json:"startAt"`
	EndAt     *time.Time `json:"endAt,omitempty"`
	Notes     []Note     `json:"notes,omitempty"`
}

// DurationSeconds is the session length in seconds, measured to ref for
// a still-open session. Stored as a float derived from the ms diff.
func (s *Session) DurationSeconds(ref time.Time) float64 {
	end := ref
	if s.EndAt != nil {
		end = *s.EndAt
	}
	d := end.Sub(s.StartAt)
	if d < 0 {
		return 0
	}
	return float64(d.Milliseconds()) / 1000.0
}

// Note is free text attached to a derived session. Notes travel inside
// the persisted blob and sync payloads keyed by session id.
type Note struct {
	NoteID    uuid.UUID `json:"noteId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewNote builds a note with a fresh id.
func NewNote(text string) Note {
	return Note{
		NoteID:    uuid.New(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
