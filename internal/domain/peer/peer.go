package peer

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_transport.go -package=mocks . Transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roleclock/roleclock/internal/domain/device"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/domain/session"
)

// Direction selects which way an endpoint exchanges state.
type Direction string

const (
	DirectionPush          Direction = "push"
	DirectionPull          Direction = "pull"
	DirectionBidirectional Direction = "bidirectional"
)

// Endpoint is a remote installation this device syncs with.
type Endpoint struct {
	EndpointID uuid.UUID  `json:"endpointId"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	APIKeyID   uuid.UUID  `json:"apiKeyRef"`
	Direction  Direction  `json:"direction"`
	IsActive   bool       `json:"isActive"`
	LastSync   *time.Time `json:"lastSync,omitempty"`
}

// Validate checks endpoint fields before create/update.
func (e *Endpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) URL")
	}
	switch e.Direction {
	case DirectionPush, DirectionPull, DirectionBidirectional:
	default:
		return errors.New("direction must be push, pull or bidirectional")
	}
	if e.APIKeyID == uuid.Nil {
		return errors.New("apiKeyRef is required")
	}
	return nil
}

// Snapshot is the {roles, events, state} bundle exchanged between
// devices. Notes ride along keyed by session id.
type Snapshot struct {
	DeviceID   string                       `json:"deviceId"`
	DeviceName string                       `json:"deviceName"`
	Timestamp  time.Time                    `json:"timestamp"`
	Roles      []role.Role                  `json:"roles"`
	Events     []event.Event                `json:"events"`
	State      device.State                 `json:"state"`
	Notes      map[uuid.UUID][]session.Note `json:"notes,omitempty"`
}

// Request is one signed outbound sync exchange.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
	// Signing material sent as headers.
	Key       string
	Timestamp time.Time
	Signature string
}

// Response is the decoded envelope of a sync exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport issues an outbound sync request against an endpoint's base
// URL. Network failures surface as errors; HTTP-level failures come
// back in the Response.
type Transport interface {
	Do(ctx context.Context, baseURL string, req Request) (*Response, error)
}
