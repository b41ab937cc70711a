package realtime

import (
	"testing"

	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestConnection(userID, username, role string) *Connection {
	return NewConnection(auth.Identity{
		UserID:   userID,
		Username: username,
		Role:     role,
	}, 8)
}

func TestRegistry_AddAndQuery(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "NURSE")
	displaced := registry.Add(conn)

	assert.Nil(t, displaced)
	assert.True(t, registry.IsConnected("user-1"))
	assert.True(t, registry.IsCurrent("user-1", conn.ID))
	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get("user-1")
	assert.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = registry.Get("user-2")
	assert.False(t, ok)
}

func TestRegistry_LatestConnectionWins(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	first := newTestConnection("user-1", "amina", "NURSE")
	second := newTestConnection("user-1", "amina", "NURSE")

	assert.Nil(t, registry.Add(first))
	displaced := registry.Add(second)

	assert.Same(t, first, displaced)
	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get("user-1")
	assert.True(t, ok)
	assert.Same(t, second, got)
	assert.False(t, registry.IsCurrent("user-1", first.ID))
}

func TestRegistry_Remove(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "NURSE")
	registry.Add(conn)

	assert.True(t, registry.Remove("user-1", conn.ID))
	assert.False(t, registry.IsConnected("user-1"))
	assert.Equal(t, 0, registry.Count())

	// Removing again is a no-op.
	assert.False(t, registry.Remove("user-1", conn.ID))
}

func TestRegistry_RemoveIgnoresDisplacedConnection(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	first := newTestConnection("user-1", "amina", "NURSE")
	second := newTestConnection("user-1", "amina", "NURSE")

	registry.Add(first)
	registry.Add(second)

	// The displaced connection's teardown must not evict the new one.
	assert.False(t, registry.Remove("user-1", first.ID))
	assert.True(t, registry.IsConnected("user-1"))

	got, _ := registry.Get("user-1")
	assert.Same(t, second, got)
}

func TestRegistry_Snapshot(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	registry.Add(newTestConnection("user-1", "amina", "NURSE"))
	registry.Add(newTestConnection("user-2", "joseph", "PHARMACIST"))

	snapshot := registry.Snapshot()

	assert.Len(t, snapshot, 2)
	assert.ElementsMatch(t, []ConnectedUser{
		{UserID: "user-1", Username: "amina", Role: "NURSE"},
		{UserID: "user-2", Username: "joseph", Role: "PHARMACIST"},
	}, snapshot)
}
