package tracker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/device"
	"github.com/roleclock/roleclock/internal/domain/event"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/store"
)

func newTestService(t *testing.T, roles ...role.Role) (*Service, *store.Store, *clock.Fake) {
	t.Helper()
	st, err := store.Open(&store.MemoryPersister{})
	require.NoError(t, err)
	require.NoError(t, st.Update(func(d *store.Data) error {
		d.Roles = append(d.Roles, roles...)
		d.Settings = device.Settings{MinSessionSeconds: 300, TransitionSeconds: 30}
		return nil
	}))
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewService(st, clk, zerolog.Nop()), st, clk
}

func testRole(name string) role.Role {
	return *role.New(name, "#112233", "", "")
}

func TestStart(t *testing.T) {
	work := testRole("work")
	svc, st, clk := newTestService(t, work)

	state, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	require.NotNil(t, state.ActiveRoleID)
	assert.Equal(t, work.RoleID, *state.ActiveRoleID)
	require.NotNil(t, state.LockUntil)
	assert.Equal(t, clk.Now().Add(300*time.Second), *state.LockUntil)

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeStart, events[0].Type)
	assert.Equal(t, work.RoleID, events[0].RoleID)
	assert.NotEqual(t, uuid.Nil, events[0].Meta.SessionID)
}

func TestStart_UnknownRole(t *testing.T) {
	svc, st, _ := newTestService(t)

	_, err := svc.Start(uuid.New())
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Empty(t, st.Events())
}

func TestStart_SupersedesActiveSession(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	svc, st, clk := newTestService(t, work, rest)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	state, err := svc.Start(rest.RoleID)
	require.NoError(t, err)
	assert.Equal(t, rest.RoleID, *state.ActiveRoleID)

	// Two starts, no end: the first interval is abandoned silently.
	events := st.Events()
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeStart, events[1].Type)
}

func TestSwitch_LockedReportsRemaining(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	svc, _, clk := newTestService(t, work, rest)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(100 * time.Second)

	_, err = svc.Switch(rest.RoleID)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 200, lockErr.Remaining)
}

func TestSwitch_CommitsAfterCountdown(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	svc, st, clk := newTestService(t, work, rest)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(301 * time.Second)

	commitAt, err := svc.Switch(rest.RoleID)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(30*time.Second), commitAt)

	status := svc.Status()
	assert.True(t, status.InTransition)
	require.NotNil(t, status.TransitionRoleID)
	assert.Equal(t, rest.RoleID, *status.TransitionRoleID)
	// Still tracking the old role until the countdown expires.
	require.NotNil(t, status.CurrentRole)
	assert.Equal(t, work.RoleID, status.CurrentRole.RoleID)

	clk.Advance(30 * time.Second)

	state := st.State()
	require.NotNil(t, state.ActiveRoleID)
	assert.Equal(t, rest.RoleID, *state.ActiveRoleID)
	assert.False(t, state.InTransition)
	require.NotNil(t, state.LockUntil)
	assert.Equal(t, clk.Now().Add(300*time.Second), *state.LockUntil)

	events := st.Events()
	require.Len(t, events, 2)
	sw := events[1]
	assert.Equal(t, event.TypeSwitch, sw.Type)
	assert.Equal(t, rest.RoleID, sw.RoleID)
	require.NotNil(t, sw.Meta.FromRoleID)
	assert.Equal(t, work.RoleID, *sw.Meta.FromRoleID)
}

func TestSwitch_Idle(t *testing.T) {
	work := testRole("work")
	svc, _, _ := newTestService(t, work)

	_, err := svc.Switch(work.RoleID)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestSwitch_RejectedWhileTransitioning(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	svc, _, clk := newTestService(t, work, rest)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(301 * time.Second)
	_, err = svc.Switch(rest.RoleID)
	require.NoError(t, err)

	_, err = svc.Switch(work.RoleID)
	assert.ErrorIs(t, err, ErrTransitionInProgress)
	_, err = svc.Start(work.RoleID)
	assert.ErrorIs(t, err, ErrTransitionInProgress)
	_, err = svc.End()
	assert.ErrorIs(t, err, ErrTransitionInProgress)
}

func TestCancelTransition(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	svc, st, clk := newTestService(t, work, rest)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	startState := st.State()
	clk.Advance(301 * time.Second)
	_, err = svc.Switch(rest.RoleID)
	require.NoError(t, err)

	require.NoError(t, svc.CancelTransition())

	state := st.State()
	assert.False(t, state.InTransition)
	assert.Equal(t, *startState.ActiveRoleID, *state.ActiveRoleID)
	assert.Equal(t, *startState.ActiveSessionID, *state.ActiveSessionID)

	events := st.Events()
	require.Len(t, events, 2)
	cancel := events[1]
	assert.Equal(t, event.TypeCancelTransition, cancel.Type)
	assert.Equal(t, rest.RoleID, cancel.RoleID)
	assert.Equal(t, *startState.ActiveSessionID, cancel.Meta.SessionID)

	// The stopped countdown must never commit.
	clk.Advance(time.Minute)
	state = st.State()
	assert.Equal(t, work.RoleID, *state.ActiveRoleID)
	assert.Len(t, st.Events(), 2)
}

func TestNewService_ClearsStaleTransitionFlag(t *testing.T) {
	work := testRole("work")
	rest := testRole("rest")
	st, err := store.Open(&store.MemoryPersister{})
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	sessionID := uuid.New()
	require.NoError(t, st.Update(func(d *store.Data) error {
		d.Roles = append(d.Roles, work, rest)
		d.Settings = device.Settings{MinSessionSeconds: 300, TransitionSeconds: 30}
		startAt := now.Add(-time.Hour)
		d.State = device.State{
			ActiveRoleID:    &work.RoleID,
			ActiveSessionID: &sessionID,
			ActiveStartAt:   &startAt,
			InTransition:    true,
		}
		return nil
	}))

	// A process died mid-countdown; the flag it persisted must not
	// survive into the new run.
	clk := clock.NewFake(now)
	svc := NewService(st, clk, zerolog.Nop())

	assert.False(t, st.State().InTransition)
	status := svc.Status()
	assert.False(t, status.InTransition)
	assert.Nil(t, status.TransitionRoleID)

	// The session itself survives, and a fresh switch is possible.
	assert.True(t, status.IsActive)
	_, err = svc.Switch(rest.RoleID)
	require.NoError(t, err)
}

func TestCancelTransition_NonePending(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.ErrorIs(t, svc.CancelTransition(), ErrNoTransition)
}

func TestEnd(t *testing.T) {
	work := testRole("work")
	svc, st, clk := newTestService(t, work)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(600 * time.Second)

	_, err = svc.End()
	require.NoError(t, err)

	state := st.State()
	assert.False(t, state.IsActive())

	events := st.Events()
	require.Len(t, events, 2)
	end := events[1]
	assert.Equal(t, event.TypeEnd, end.Type)
	assert.Equal(t, work.RoleID, end.RoleID)
	assert.Equal(t, 600.0, end.Meta.DurationSeconds)
}

func TestEnd_Locked(t *testing.T) {
	work := testRole("work")
	svc, _, clk := newTestService(t, work)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(299 * time.Second)

	_, err = svc.End()
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 1, lockErr.Remaining)
}

func TestEnd_Idle(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.End()
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestStatus_LockCountdown(t *testing.T) {
	work := testRole("work")
	svc, _, clk := newTestService(t, work)

	status := svc.Status()
	assert.False(t, status.IsActive)
	assert.Nil(t, status.CurrentRole)

	_, err := svc.Start(work.RoleID)
	require.NoError(t, err)
	clk.Advance(100 * time.Second)

	status = svc.Status()
	assert.True(t, status.IsActive)
	assert.True(t, status.IsLocked)
	require.NotNil(t, status.LockTimeRemaining)
	assert.Equal(t, 200, *status.LockTimeRemaining)
	require.NotNil(t, status.CurrentSession)
	assert.Nil(t, status.CurrentSession.EndAt)

	clk.Advance(201 * time.Second)
	status = svc.Status()
	assert.False(t, status.IsLocked)
	assert.Nil(t, status.LockTimeRemaining)
}
