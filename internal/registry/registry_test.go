package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/store"
)

func newTestRegistry() *Registry {
	return New(store.NewMemory(), nil)
}

func user(id, name string) *domain.User {
	return &domain.User{ID: domain.UserID(id), DisplayName: name}
}

// TestJoinBootstrapsHost verifies that the first joiner becomes host and
// everyone after that joins as a plain participant.
func TestJoinBootstrapsHost(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	res, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, res.Role)
	assert.Equal(t, 1, res.ParticipantCount)

	res, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, res.Role)
	assert.Equal(t, 2, res.ParticipantCount)
}

func TestJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	alice := user("alice", "Alice")

	first, err := r.Join(ctx, "room-1", alice)
	require.NoError(t, err)

	again, err := r.Join(ctx, "room-1", alice)
	require.NoError(t, err)
	assert.Equal(t, first.Role, again.Role)
	assert.Equal(t, 1, again.ParticipantCount)
}

func TestJoinRejectsBadRoomID(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "", user("alice", "Alice"))
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

// TestListRooms verifies that only rooms with members are listed and that
// an emptied room drops out.
func TestListRooms(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-a", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-a", user("bob", "Bob"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-b", user("carol", "Carol"))
	require.NoError(t, err)

	rooms, err := r.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, domain.RoomID("room-a"), rooms[0].RoomID)
	assert.Equal(t, 2, rooms[0].ParticipantCount)
	assert.Equal(t, domain.RoomID("room-b"), rooms[1].RoomID)
	assert.Equal(t, 1, rooms[1].ParticipantCount)

	require.NoError(t, r.Leave(ctx, "room-b", "carol"))
	rooms, err = r.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.RoomID("room-a"), rooms[0].RoomID)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)

	require.NoError(t, r.Leave(ctx, "room-1", "bob"))

	parts, err := r.ListParticipants(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, domain.UserID("alice"), parts[0].UserID)

	// Leaving twice is a not-found, membership is already gone.
	err = r.Leave(ctx, "room-1", "bob")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestSetRoleRequiresModerator(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice")) // host
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("carol", "Carol"))
	require.NoError(t, err)

	err = r.SetRole(ctx, "room-1", "bob", "carol", domain.RoleModerator)
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))

	require.NoError(t, r.SetRole(ctx, "room-1", "alice", "bob", domain.RoleModerator))
	role, err := r.RoleOf(ctx, "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, role)

	// A freshly promoted moderator can moderate.
	require.NoError(t, r.SetRole(ctx, "room-1", "bob", "carol", domain.RoleObserver))
}

func TestSetRoleRejectsUnknownRole(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)

	err = r.SetRole(ctx, "room-1", "alice", "alice", "superuser")
	assert.True(t, domain.IsCode(err, domain.ErrValidation))
}

// TestPermissionOverrides verifies that explicit overrides beat the role
// defaults in both directions.
func TestPermissionOverrides(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)

	// Participant default: chat allowed, record denied.
	ok, err := r.Can(ctx, "room-1", "bob", domain.PermSendChat)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Can(ctx, "room-1", "bob", domain.PermRecord)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetPermissions(ctx, "room-1", "alice", "bob", domain.PermissionSet{
		domain.PermSendChat: false,
		domain.PermRecord:   true,
	}))

	ok, err = r.Can(ctx, "room-1", "bob", domain.PermSendChat)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.Can(ctx, "room-1", "bob", domain.PermRecord)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetPermissionsRequiresModerator(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)

	err = r.SetPermissions(ctx, "room-1", "bob", "alice", domain.PermissionSet{domain.PermSendChat: false})
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
}

// TestHandRaiseQueue walks the FIFO contract: raise A, B, C, lower B, and
// the queue must read A, C with positions renumbered.
func TestHandRaiseQueue(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Join(ctx, "room-1", user(id, id))
		require.NoError(t, err)
	}

	require.NoError(t, r.Raise(ctx, "room-1", "a"))
	require.NoError(t, r.Raise(ctx, "room-1", "b"))
	require.NoError(t, r.Raise(ctx, "room-1", "c"))

	// Raising again keeps the original position.
	require.NoError(t, r.Raise(ctx, "room-1", "a"))

	queue, err := r.HandQueue(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, domain.UserID("a"), queue[0].UserID)

	require.NoError(t, r.Lower(ctx, "room-1", "b"))

	queue, err = r.HandQueue(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, domain.UserID("a"), queue[0].UserID)
	assert.Equal(t, 1, queue[0].Position)
	assert.Equal(t, domain.UserID("c"), queue[1].UserID)
	assert.Equal(t, 2, queue[1].Position)

	// Lowering an unraised hand is a no-op.
	require.NoError(t, r.Lower(ctx, "room-1", "b"))
}

func TestRaiseRequiresMembership(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	err := r.Raise(ctx, "room-1", "ghost")
	assert.True(t, domain.IsCode(err, domain.ErrNotFound))
}

func TestWaitingRoomFlow(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice")) // host
	require.NoError(t, err)

	entry, err := r.RequestAdmission(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionWaiting, entry.Status)

	// Repeated request returns the existing entry.
	again, err := r.RequestAdmission(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)
	assert.True(t, entry.JoinedWaitingAt.Equal(again.JoinedWaitingAt))

	waiting, err := r.ListWaiting(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	res, err := r.Admit(ctx, "room-1", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParticipant, res.Role)

	// Admission consumed the waiting entry.
	waiting, err = r.ListWaiting(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, waiting)

	parts, err := r.ListParticipants(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, parts, 2)
}

func TestAdmitRequiresModerator(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.Join(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)
	_, err = r.RequestAdmission(ctx, "room-1", user("carol", "Carol"))
	require.NoError(t, err)

	_, err = r.Admit(ctx, "room-1", "bob", "carol")
	assert.True(t, domain.IsCode(err, domain.ErrUnauthorized))
}

func TestRejectAdmissionIsFinal(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	_, err := r.Join(ctx, "room-1", user("alice", "Alice"))
	require.NoError(t, err)
	_, err = r.RequestAdmission(ctx, "room-1", user("bob", "Bob"))
	require.NoError(t, err)

	require.NoError(t, r.RejectAdmission(ctx, "room-1", "alice", "bob"))

	// The decision may not be reversed or re-decided.
	_, err = r.Admit(ctx, "room-1", "alice", "bob")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
	err = r.RejectAdmission(ctx, "room-1", "alice", "bob")
	assert.True(t, domain.IsCode(err, domain.ErrConflict))
}
