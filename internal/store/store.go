package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/apikey"
	"github.com/roleclock/roleclock/internal/domain/device"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/peer"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/domain/session"
)

// Data is the persisted blob. The host environment loads and saves it
// wholesale, never incrementally.
type Data struct {
	Roles     []role.Role                  `json:"roles"`
	Events    []event.Event                `json:"events"`
	State     device.State                 `json:"state"`
	Settings  device.Settings              `json:"settings"`
	APIKeys   []apikey.APIKey              `json:"apiKeys"`
	Endpoints []peer.Endpoint              `json:"syncEndpoints"`
	Notes     map[uuid.UUID][]session.Note `json:"notes"`
}

func emptyData() *Data {
	return &Data{
		Roles:     []role.Role{},
		Events:    []event.Event{},
		APIKeys:   []apikey.APIKey{},
		Endpoints: []peer.Endpoint{},
		Notes:     map[uuid.UUID][]session.Note{},
	}
}

// Persister loads and saves the blob wholesale.
type Persister interface {
	Load() (*Data, error)
	Save(*Data) error
}

// Store is the single shared mutable {roles, events, state} handle
// passed explicitly into the state machine, the deriver callers and the
// sync engine. Every mutation runs as one critical section and is
// persisted before the lock is released, so a merge and a transition
// can never interleave mid-mutation.
type Store struct {
	mu        sync.Mutex
	data      *Data
	persister Persister
}

// Open loads the blob (or starts empty) and wraps it in a store.
func Open(p Persister) (*Store, error) {
	data, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if data == nil {
		data = emptyData()
	}
	if data.Notes == nil {
		data.Notes = map[uuid.UUID][]session.Note{}
	}
	return &Store{data: data, persister: p}, nil
}

// Update runs fn as a critical section over the blob and saves the
// whole blob on success. fn returning an error discards nothing — the
// caller must not partially mutate before failing.
func (s *Store) Update(fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.data); err != nil {
		return err
	}
	return s.persister.Save(s.data)
}

// View runs fn with read access under the same lock.
func (s *Store) View(fn func(*Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Roles returns a copy of the role collection.
func (s *Store) Roles() []role.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]role.Role, len(s.data.Roles))
	copy(out, s.data.Roles)
	return out
}

// Events returns a copy of the event log in stable log order.
func (s *Store) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.data.Events))
	copy(out, s.data.Events)
	return out
}

// State returns the current singleton state.
func (s *Store) State() device.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.State
}

// Settings returns the persisted timing settings.
func (s *Store) Settings() device.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Settings
}

// FindRole resolves a role by id, or nil.
func FindRole(d *Data, id uuid.UUID) *role.Role {
	for i := range d.Roles {
		if d.Roles[i].RoleID == id {
			return &d.Roles[i]
		}
	}
	return nil
}

// ResolveRole resolves a role by id, falling back to the deleted-role
// placeholder so dangling event references stay readable.
func ResolveRole(d *Data, id uuid.UUID) role.Role {
	if r := FindRole(d, id); r != nil {
		return *r
	}
	return *role.Deleted(id)
}

// FindKey resolves an API key by its record id, or nil.
func FindKey(d *Data, id uuid.UUID) *apikey.APIKey {
	for i := range d.APIKeys {
		if d.APIKeys[i].KeyID == id {
			return &d.APIKeys[i]
		}
	}
	return nil
}

// FindEndpoint resolves a sync endpoint by id, or nil.
func FindEndpoint(d *Data, id uuid.UUID) *peer.Endpoint {
	for i := range d.Endpoints {
		if d.Endpoints[i].EndpointID == id {
			return &d.Endpoints[i]
		}
	}
	return nil
}
