package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/apikey"
	"github.com/roleclock/roleclock/internal/store"
)

// ErrKeyNotFound is returned for unknown key record ids.
var ErrKeyNotFound = errors.New("api key not found")

// Service issues API keys and gates requests. Authentication never
// mutates roles, events or state; on success only the key's lastUsed
// moves.
type Service struct {
	store     *store.Store
	clk       clock.Clock
	tolerance time.Duration
	logger    zerolog.Logger
}

// NewService creates an auth service. tolerance bounds the age of
// signed-request timestamps (replay window).
func NewService(st *store.Store, clk clock.Clock, tolerance time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		clk:       clk,
		tolerance: tolerance,
		logger:    logger.With().Str("service", "auth").Logger(),
	}
}

// GenerateKey issues a new API key. Key and secret come from a
// cryptographically secure source; the secret is returned exactly once.
func (s *Service) GenerateKey(name string, permissions []apikey.Permission) (*apikey.APIKey, error) {
	if err := apikey.ValidateName(name); err != nil {
		return nil, err
	}
	if err := apikey.ValidatePermissions(permissions); err != nil {
		return nil, err
	}
	key, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	secret, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	k := apikey.APIKey{
		KeyID:       uuid.New(),
		Name:        name,
		Key:         "rck_" + key,
		Secret:      secret,
		Permissions: permissions,
		IsActive:    true,
		CreatedAt:   s.clk.Now(),
	}
	err = s.store.Update(func(d *store.Data) error {
		d.APIKeys = append(d.APIKeys, k)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("key_id", k.KeyID.String()).Str("name", name).Msg("api key issued")
	return &k, nil
}

// ProvisionKey installs a key with caller-supplied material, used for
// the ADMIN_API_KEY bootstrap and for pairing devices that must share
// a credential. No-op if the key string already exists.
func (s *Service) ProvisionKey(name, key, secret string, permissions []apikey.Permission) error {
	if key == "" {
		return errors.New("key is required")
	}
	if err := apikey.ValidatePermissions(permissions); err != nil {
		return err
	}
	return s.store.Update(func(d *store.Data) error {
		for i := range d.APIKeys {
			if d.APIKeys[i].Key == key {
				return nil
			}
		}
		d.APIKeys = append(d.APIKeys, apikey.APIKey{
			KeyID:       uuid.New(),
			Name:        name,
			Key:         key,
			Secret:      secret,
			Permissions: permissions,
			IsActive:    true,
			CreatedAt:   s.clk.Now(),
		})
		return nil
	})
}

// Credentials are the auth-relevant request headers.
type Credentials struct {
	// APIKey is the public key string, from Authorization: Bearer or
	// X-API-Key.
	APIKey string
	// Timestamp and Signature select signed mode when set.
	Timestamp string
	Signature string
	// Body is the raw request body covered by the signature.
	Body []byte
}

// Result reports an authentication decision.
type Result struct {
	OK     bool
	Key    *apikey.APIKey
	Reason string
}

func failure(reason string) Result { return Result{Reason: reason} }

// Authenticate checks credentials against the active keys and the
// required permission. Signed mode recomputes
// HMAC-SHA-256(secret, timestamp ++ body) and enforces the replay
// window on the timestamp.
func (s *Service) Authenticate(creds Credentials, required apikey.Permission) Result {
	if creds.APIKey == "" {
		return failure("missing api key")
	}

	var match *apikey.APIKey
	s.store.View(func(d *store.Data) {
		for i := range d.APIKeys {
			k := &d.APIKeys[i]
			if !k.IsActive {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(k.Key), []byte(creds.APIKey)) == 1 {
				cp := *k
				match = &cp
				return
			}
		}
	})
	if match == nil {
		return failure("invalid api key")
	}

	if creds.Signature != "" || creds.Timestamp != "" {
		if creds.Signature == "" || creds.Timestamp == "" {
			return failure("signed requests need both timestamp and signature")
		}
		ts, err := parseTimestamp(creds.Timestamp)
		if err != nil {
			return failure("invalid timestamp")
		}
		skew := s.clk.Now().Sub(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > s.tolerance {
			return failure("timestamp outside tolerance window")
		}
		want := Sign(match.Secret, creds.Timestamp, creds.Body)
		if !hmac.Equal([]byte(want), []byte(creds.Signature)) {
			return failure("signature mismatch")
		}
	}

	if !match.Allows(required) {
		return failure("insufficient permissions")
	}

	now := s.clk.Now()
	err := s.store.Update(func(d *store.Data) error {
		if k := store.FindKey(d, match.KeyID); k != nil {
			k.LastUsed = &now
		}
		return nil
	})
	if err != nil {
		// lastUsed is bookkeeping; a failed write never blocks an
		// otherwise valid request.
		s.logger.Warn().Err(err).Str("key_id", match.KeyID.String()).Msg("failed to persist lastUsed")
	}
	match.LastUsed = &now
	return Result{OK: true, Key: match}
}

// ListKeys returns all keys without secrets.
func (s *Service) ListKeys() []apikey.APIKey {
	var out []apikey.APIKey
	s.store.View(func(d *store.Data) {
		out = make([]apikey.APIKey, 0, len(d.APIKeys))
		for _, k := range d.APIKeys {
			out = append(out, k.Sanitized())
		}
	})
	return out
}

// UpdateKey edits name, permissions and active flag.
func (s *Service) UpdateKey(id uuid.UUID, name string, permissions []apikey.Permission, isActive bool) (*apikey.APIKey, error) {
	if err := apikey.ValidateName(name); err != nil {
		return nil, err
	}
	if err := apikey.ValidatePermissions(permissions); err != nil {
		return nil, err
	}
	var updated *apikey.APIKey
	err := s.store.Update(func(d *store.Data) error {
		k := store.FindKey(d, id)
		if k == nil {
			return ErrKeyNotFound
		}
		k.Name = name
		k.Permissions = permissions
		k.IsActive = isActive
		cp := k.Sanitized()
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteKey revokes and removes a key.
func (s *Service) DeleteKey(id uuid.UUID) error {
	return s.store.Update(func(d *store.Data) error {
		for i := range d.APIKeys {
			if d.APIKeys[i].KeyID == id {
				d.APIKeys = append(d.APIKeys[:i], d.APIKeys[i+1:]...)
				return nil
			}
		}
		return ErrKeyNotFound
	})
}

// KeyByID resolves a key including its secret, for signing outbound
// sync requests. Never exposed over the API.
func (s *Service) KeyByID(id uuid.UUID) (*apikey.APIKey, error) {
	var out *apikey.APIKey
	s.store.View(func(d *store.Data) {
		if k := store.FindKey(d, id); k != nil {
			cp := *k
			out = &cp
		}
	})
	if out == nil {
		return nil, ErrKeyNotFound
	}
	return out, nil
}

// Sign computes the hex HMAC-SHA-256 of timestamp ++ body under the
// key secret. The MAC must be a real keyed hash; anything forgeable
// would void the signed-mode guarantees.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatTimestamp renders the signed-mode timestamp header value
// (unix milliseconds).
func FormatTimestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTimestamp(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
