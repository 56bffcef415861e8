package role

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainRole "github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/store"
)

// ErrNotFound is returned when a role id does not resolve.
var ErrNotFound = errors.New("role not found")

// Service manages the role catalog.
type Service struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewService creates a role service.
func NewService(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("service", "role").Logger(),
	}
}

// Create adds a new role.
func (s *Service) Create(name, colorHex, description, icon string) (*domainRole.Role, error) {
	if err := domainRole.Validate(name, colorHex); err != nil {
		return nil, err
	}
	r := domainRole.New(name, colorHex, description, icon)
	err := s.store.Update(func(d *store.Data) error {
		d.Roles = append(d.Roles, *r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("role_id", r.RoleID.String()).Str("name", r.Name).Msg("role created")
	return r, nil
}

// List returns all roles.
func (s *Service) List() []domainRole.Role {
	return s.store.Roles()
}

// Get resolves a role by id.
func (s *Service) Get(id uuid.UUID) (*domainRole.Role, error) {
	var found *domainRole.Role
	s.store.View(func(d *store.Data) {
		if r := store.FindRole(d, id); r != nil {
			cp := *r
			found = &cp
		}
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Update edits a role in place. Identity is the id; history is never
// rewritten.
func (s *Service) Update(id uuid.UUID, name, colorHex, description, icon string) (*domainRole.Role, error) {
	if err := domainRole.Validate(name, colorHex); err != nil {
		return nil, err
	}
	var updated *domainRole.Role
	err := s.store.Update(func(d *store.Data) error {
		r := store.FindRole(d, id)
		if r == nil {
			return ErrNotFound
		}
		r.Name = name
		r.ColorHex = colorHex
		r.Description = description
		r.Icon = icon
		r.UpdatedAt = time.Now().UTC()
		cp := *r
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a role. Historical events keep their roleId and
// resolve to the deleted-role placeholder at read time.
func (s *Service) Delete(id uuid.UUID) error {
	err := s.store.Update(func(d *store.Data) error {
		for i := range d.Roles {
			if d.Roles[i].RoleID == id {
				d.Roles = append(d.Roles[:i], d.Roles[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("role_id", id.String()).Msg("role deleted")
	return nil
}
