package sync

import (
	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/peer"
	"github.com/roleclock/roleclock/internal/store"
)

// MergeStats summarizes what a snapshot merge changed.
type MergeStats struct {
	RolesUpserted int  `json:"rolesUpserted"`
	EventsAdded   int  `json:"eventsAdded"`
	NotesAdded    int  `json:"notesAdded"`
	StateAdopted  bool `json:"stateAdopted"`
}

// merge applies a remote snapshot to local data. It is deterministic
// and idempotent, and safe to re-run with the same snapshot.
//
// Roles are upserted by id: whoever merges last wins, with no
// timestamp or causal tie-break. That is the documented last-writer-
// wins limitation of the protocol, preserved on purpose.
//
// Events union by id and the full log is re-sorted by timestamp.
// Timestamps come from unsynchronized device clocks, so the total
// order is only approximate under skew.
//
// The remote state is adopted wholesale only when it is running
// (non-nil activeStartAt), strictly newer than the local one (or the
// local one is idle), and its role exists after the role merge.
func merge(d *store.Data, snap peer.Snapshot) MergeStats {
	var stats MergeStats

	for _, incoming := range snap.Roles {
		replaced := false
		for i := range d.Roles {
			if d.Roles[i].RoleID == incoming.RoleID {
				d.Roles[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced {
			d.Roles = append(d.Roles, incoming)
		}
		stats.RolesUpserted++
	}

	seen := make(map[uuid.UUID]struct{}, len(d.Events))
	for _, ev := range d.Events {
		seen[ev.EventID] = struct{}{}
	}
	for _, ev := range snap.Events {
		if _, dup := seen[ev.EventID]; dup {
			continue
		}
		seen[ev.EventID] = struct{}{}
		d.Events = append(d.Events, ev)
		stats.EventsAdded++
	}
	event.SortByTime(d.Events)

	for sessionID, notes := range snap.Notes {
		existing := make(map[uuid.UUID]struct{}, len(d.Notes[sessionID]))
		for _, n := range d.Notes[sessionID] {
			existing[n.NoteID] = struct{}{}
		}
		for _, n := range notes {
			if _, dup := existing[n.NoteID]; dup {
				continue
			}
			d.Notes[sessionID] = append(d.Notes[sessionID], n)
			stats.NotesAdded++
		}
	}

	if shouldAdoptState(d, snap) {
		d.State = snap.State
		stats.StateAdopted = true
	}
	return stats
}

func shouldAdoptState(d *store.Data, snap peer.Snapshot) bool {
	if snap.State.ActiveStartAt == nil {
		return false
	}
	if d.State.ActiveStartAt != nil && !snap.State.ActiveStartAt.After(*d.State.ActiveStartAt) {
		return false
	}
	if snap.State.ActiveRoleID == nil {
		return false
	}
	return store.FindRole(d, *snap.State.ActiveRoleID) != nil
}
