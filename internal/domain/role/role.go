package role

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a named activity the user can be "in".
type Role struct {
	RoleID      uuid.UUID `json:"roleId"`
	Name        string    `json:"name"`
	ColorHex    string    `json:"colorHex"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// New builds a role with a fresh id and timestamps.
func New(name, colorHex, description, icon string) *Role {
	now := time.Now().UTC()
	return &Role{
		RoleID:      uuid.New(),
		Name:        name,
		ColorHex:    colorHex,
		Description: description,
		Icon:        icon,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Deleted returns the placeholder resolved for events whose role no
// longer exists. Deleting a role never cascades into history.
func Deleted(roleID uuid.UUID) *Role {
	return &Role{
		RoleID:   roleID,
		Name:     "(deleted role)",
		ColorHex: "#808080",
	}
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate checks the mutable role fields.
func Validate(name, colorHex string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	if len(name) > 64 {
		return errors.New("name must be at most 64 characters")
	}
	if colorHex != "" && !colorPattern.MatchString(colorHex) {
		return errors.New("colorHex must look like #rrggbb")
	}
	return nil
}
