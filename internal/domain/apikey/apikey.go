package apikey

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Permission gates an API operation.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionSync  Permission = "sync"
	// PermissionAdmin satisfies any required permission.
	PermissionAdmin Permission = "admin"
)

var known = map[Permission]struct{}{
	PermissionRead:  {},
	PermissionWrite: {},
	PermissionSync:  {},
	PermissionAdmin: {},
}

// ValidatePermissions rejects unknown permission names.
func ValidatePermissions(perms []Permission) error {
	if len(perms) == 0 {
		return errors.New("at least one permission is required")
	}
	for _, p := range perms {
		if _, ok := known[p]; !ok {
			return errors.New("unknown permission: " + string(p))
		}
	}
	return nil
}

// APIKey authenticates requests. Key is the public identifier presented
// on the wire; Secret never leaves the device and is only used to
// compute and verify request signatures.
type APIKey struct {
	KeyID       uuid.UUID    `json:"keyId"`
	Name        string       `json:"name"`
	Key         string       `json:"key"`
	Secret      string       `json:"secret,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsActive    bool         `json:"isActive"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUsed    *time.Time   `json:"lastUsed,omitempty"`
}

// Allows reports whether the key grants the required permission. Admin
// overrides any requirement; an empty requirement only needs an active key.
func (k *APIKey) Allows(required Permission) bool {
	if required == "" {
		return true
	}
	for _, p := range k.Permissions {
		if p == PermissionAdmin || p == required {
			return true
		}
	}
	return false
}

// Sanitized returns a copy safe to put on the wire: the secret stays
// on the device, it is only ever used to compute signatures.
func (k APIKey) Sanitized() APIKey {
	k.Secret = ""
	return k
}

// ValidateName checks the human-facing key label.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	if len(name) > 64 {
		return errors.New("name must be at most 64 characters")
	}
	return nil
}
