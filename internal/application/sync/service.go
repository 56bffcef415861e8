package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roleclock/roleclock/internal/application/auth"
	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/peer"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/domain/session"
	"github.com/roleclock/roleclock/internal/store"
)

// ErrEndpointNotFound is returned for unknown endpoint ids.
var ErrEndpointNotFound = errors.New("sync endpoint not found")

// Service replicates {roles, events, state} with remote peers. It reads
// and merges through the shared store, so a merge is one uninterrupted
// critical section relative to transitions and other merges. Endpoints
// are processed one at a time, never in parallel.
type Service struct {
	store      *store.Store
	authSvc    *auth.Service
	transport  peer.Transport
	clk        clock.Clock
	deviceID   string
	deviceName string
	logger     zerolog.Logger
}

// NewService creates a sync service.
func NewService(st *store.Store, authSvc *auth.Service, transport peer.Transport, clk clock.Clock, deviceID, deviceName string, logger zerolog.Logger) *Service {
	return &Service{
		store:      st,
		authSvc:    authSvc,
		transport:  transport,
		clk:        clk,
		deviceID:   deviceID,
		deviceName: deviceName,
		logger:     logger.With().Str("service", "sync").Logger(),
	}
}

// Snapshot packages the device's current {roles, events, state}.
func (s *Service) Snapshot() peer.Snapshot {
	return s.buildSnapshot(nil)
}

// Run walks the active endpoints on a fixed tick until ctx is done.
// Per-endpoint failures are logged and skipped; there is no backoff,
// the next tick retries.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every active endpoint in sequence.
func (s *Service) RunOnce(ctx context.Context) {
	var endpoints []peer.Endpoint
	s.store.View(func(d *store.Data) {
		endpoints = make([]peer.Endpoint, len(d.Endpoints))
		copy(endpoints, d.Endpoints)
	})
	for _, ep := range endpoints {
		if !ep.IsActive {
			continue
		}
		if err := s.SyncEndpoint(ctx, ep.EndpointID); err != nil {
			s.logger.Error().Err(err).
				Str("endpoint_id", ep.EndpointID.String()).
				Str("endpoint", ep.Name).
				Msg("sync failed")
		}
	}
}

// SyncEndpoint runs one exchange with the endpoint per its direction.
func (s *Service) SyncEndpoint(ctx context.Context, endpointID uuid.UUID) error {
	ep, err := s.endpoint(endpointID)
	if err != nil {
		return err
	}
	switch ep.Direction {
	case peer.DirectionPush:
		err = s.Push(ctx, endpointID)
	case peer.DirectionPull:
		err = s.Pull(ctx, endpointID)
	case peer.DirectionBidirectional:
		err = s.Bidirectional(ctx, endpointID)
	default:
		err = fmt.Errorf("unknown direction %q", ep.Direction)
	}
	return err
}

// Push sends the local snapshot to the endpoint.
func (s *Service) Push(ctx context.Context, endpointID uuid.UUID) error {
	ep, err := s.endpoint(endpointID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(s.buildSnapshot(nil))
	if err != nil {
		return err
	}
	if _, err := s.send(ctx, ep, "POST", "/sync/push", nil, body); err != nil {
		return err
	}
	return s.markSynced(endpointID)
}

// Pull fetches events newer than the endpoint's lastSync cursor and
// merges the returned snapshot.
func (s *Service) Pull(ctx context.Context, endpointID uuid.UUID) error {
	ep, err := s.endpoint(endpointID)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("deviceId", s.deviceID)
	if ep.LastSync != nil {
		q.Set("since", auth.FormatTimestamp(*ep.LastSync))
	}
	raw, err := s.send(ctx, ep, "GET", "/sync/pull", q, nil)
	if err != nil {
		return err
	}
	var snap peer.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("malformed pull payload: %w", err)
	}
	if _, err := s.Merge(snap); err != nil {
		return err
	}
	return s.markSynced(endpointID)
}

// Bidirectional pushes the local snapshot and merges the remote one
// returned in the same exchange.
func (s *Service) Bidirectional(ctx context.Context, endpointID uuid.UUID) error {
	ep, err := s.endpoint(endpointID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(s.buildSnapshot(nil))
	if err != nil {
		return err
	}
	raw, err := s.send(ctx, ep, "POST", "/sync/bidirectional", nil, body)
	if err != nil {
		return err
	}
	var snap peer.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("malformed bidirectional payload: %w", err)
	}
	if _, err := s.Merge(snap); err != nil {
		return err
	}
	return s.markSynced(endpointID)
}

// Merge applies a remote snapshot to the local store as one critical
// section and reports what changed. Re-running the same snapshot is a
// no-op.
func (s *Service) Merge(snap peer.Snapshot) (MergeStats, error) {
	var stats MergeStats
	err := s.store.Update(func(d *store.Data) error {
		stats = merge(d, snap)
		return nil
	})
	if err != nil {
		return MergeStats{}, err
	}
	s.logger.Info().
		Str("device_id", snap.DeviceID).
		Int("events_added", stats.EventsAdded).
		Int("roles_upserted", stats.RolesUpserted).
		Bool("state_adopted", stats.StateAdopted).
		Msg("snapshot merged")
	return stats, nil
}

// ReceivePush is the inbound counterpart of Push.
func (s *Service) ReceivePush(snap peer.Snapshot) (MergeStats, error) {
	return s.Merge(snap)
}

// ProducePull is the inbound counterpart of Pull: the local snapshot
// with events strictly newer than the since cursor. A nil cursor
// returns the full log.
func (s *Service) ProducePull(since *time.Time) peer.Snapshot {
	return s.buildSnapshot(since)
}

// ReceiveBidirectional merges the caller's snapshot and returns the
// merged local one.
func (s *Service) ReceiveBidirectional(snap peer.Snapshot) (peer.Snapshot, MergeStats, error) {
	stats, err := s.Merge(snap)
	if err != nil {
		return peer.Snapshot{}, MergeStats{}, err
	}
	return s.buildSnapshot(nil), stats, nil
}

func (s *Service) buildSnapshot(since *time.Time) peer.Snapshot {
	snap := peer.Snapshot{
		DeviceID:   s.deviceID,
		DeviceName: s.deviceName,
		Timestamp:  s.clk.Now(),
		Roles:      []role.Role{},
		Events:     []event.Event{},
	}
	s.store.View(func(d *store.Data) {
		snap.Roles = append(snap.Roles, d.Roles...)
		if since == nil {
			snap.Events = append(snap.Events, d.Events...)
		} else {
			for _, ev := range d.Events {
				if ev.At.After(*since) {
					snap.Events = append(snap.Events, ev)
				}
			}
		}
		snap.State = d.State
		snap.Notes = make(map[uuid.UUID][]session.Note, len(d.Notes))
		for sid, notes := range d.Notes {
			cp := make([]session.Note, len(notes))
			copy(cp, notes)
			snap.Notes[sid] = cp
		}
	})
	return snap
}

// envelope mirrors the wire response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// send signs and issues one exchange, returning the envelope data.
func (s *Service) send(ctx context.Context, ep *peer.Endpoint, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	key, err := s.authSvc.KeyByID(ep.APIKeyID)
	if err != nil {
		return nil, fmt.Errorf("endpoint key: %w", err)
	}
	now := s.clk.Now()
	ts := auth.FormatTimestamp(now)
	req := peer.Request{
		Method:    method,
		Path:      path,
		Query:     query,
		Body:      body,
		Key:       key.Key,
		Timestamp: now,
		Signature: auth.Sign(key.Secret, ts, body),
	}
	resp, err := s.transport.Do(ctx, ep.URL, req)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("malformed response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		reason := env.Error
		if env.Message != "" {
			reason = env.Message
		}
		return nil, fmt.Errorf("remote rejected %s %s: status %d: %s", method, path, resp.StatusCode, reason)
	}
	return env.Data, nil
}

func (s *Service) endpoint(id uuid.UUID) (*peer.Endpoint, error) {
	var out *peer.Endpoint
	s.store.View(func(d *store.Data) {
		if ep := store.FindEndpoint(d, id); ep != nil {
			cp := *ep
			out = &cp
		}
	})
	if out == nil {
		return nil, ErrEndpointNotFound
	}
	return out, nil
}

func (s *Service) markSynced(id uuid.UUID) error {
	now := s.clk.Now()
	return s.store.Update(func(d *store.Data) error {
		if ep := store.FindEndpoint(d, id); ep != nil {
			ep.LastSync = &now
		}
		return nil
	})
}

// CreateEndpoint registers a remote peer.
func (s *Service) CreateEndpoint(name, rawURL string, apiKeyID uuid.UUID, direction peer.Direction, isActive bool) (*peer.Endpoint, error) {
	ep := peer.Endpoint{
		EndpointID: uuid.New(),
		Name:       name,
		URL:        rawURL,
		APIKeyID:   apiKeyID,
		Direction:  direction,
		IsActive:   isActive,
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	err := s.store.Update(func(d *store.Data) error {
		if store.FindKey(d, apiKeyID) == nil {
			return auth.ErrKeyNotFound
		}
		d.Endpoints = append(d.Endpoints, ep)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListEndpoints returns all registered endpoints.
func (s *Service) ListEndpoints() []peer.Endpoint {
	var out []peer.Endpoint
	s.store.View(func(d *store.Data) {
		out = make([]peer.Endpoint, len(d.Endpoints))
		copy(out, d.Endpoints)
	})
	return out
}

// UpdateEndpoint edits an endpoint in place.
func (s *Service) UpdateEndpoint(id uuid.UUID, name, rawURL string, apiKeyID uuid.UUID, direction peer.Direction, isActive bool) (*peer.Endpoint, error) {
	var updated *peer.Endpoint
	err := s.store.Update(func(d *store.Data) error {
		ep := store.FindEndpoint(d, id)
		if ep == nil {
			return ErrEndpointNotFound
		}
		next := *ep
		next.Name = name
		next.URL = rawURL
		next.APIKeyID = apiKeyID
		next.Direction = direction
		next.IsActive = isActive
		if err := next.Validate(); err != nil {
			return err
		}
		if store.FindKey(d, apiKeyID) == nil {
			return auth.ErrKeyNotFound
		}
		*ep = next
		cp := next
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEndpoint removes an endpoint.
func (s *Service) DeleteEndpoint(id uuid.UUID) error {
	return s.store.Update(func(d *store.Data) error {
		for i := range d.Endpoints {
			if d.Endpoints[i].EndpointID == id {
				d.Endpoints = append(d.Endpoints[:i], d.Endpoints[i+1:]...)
				return nil
			}
		}
		return ErrEndpointNotFound
	})
}
