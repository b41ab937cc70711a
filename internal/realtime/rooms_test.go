package realtime

import (
	"testing"

	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func drain(conn *Connection) []Envelope {
	var envelopes []Envelope
	for {
		select {
		case envelope := <-conn.Send:
			envelopes = append(envelopes, envelope)
		default:
			return envelopes
		}
	}
}

func TestRoomManager_JoinDefaults(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "NURSE")
	rooms.JoinDefaults(conn)

	assert.ElementsMatch(t, []string{"user:user-1", "role:NURSE", "general"}, rooms.Rooms(conn))
}

func TestRoomManager_JoinDefaultsWithoutRole(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "")
	rooms.JoinDefaults(conn)

	assert.ElementsMatch(t, []string{"user:user-1", "general"}, rooms.Rooms(conn))
}

func TestRoomManager_JoinAndLeaveAreIdempotent(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "NURSE")

	rooms.Join(conn, "entity:patient:p-1")
	rooms.Join(conn, "entity:patient:p-1")
	assert.Equal(t, []string{"entity:patient:p-1"}, rooms.Rooms(conn))

	rooms.Leave(conn, "entity:patient:p-1")
	assert.Empty(t, rooms.Rooms(conn))

	// Leaving a room the connection is not in is a no-op.
	rooms.Leave(conn, "entity:patient:p-1")
	assert.Empty(t, rooms.Rooms(conn))
}

func TestRoomManager_PublishExcludesSender(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	sender := newTestConnection("user-1", "amina", "NURSE")
	peer := newTestConnection("user-2", "joseph", "NURSE")

	rooms.Join(sender, "entity:patient:p-1")
	rooms.Join(peer, "entity:patient:p-1")

	delivered := rooms.Publish("entity:patient:p-1", EventUserTyping, map[string]any{"isTyping": true}, sender)

	assert.Equal(t, 1, delivered)
	assert.Empty(t, drain(sender))

	peerEnvelopes := drain(peer)
	assert.Len(t, peerEnvelopes, 1)
	assert.Equal(t, EventUserTyping, peerEnvelopes[0].Event)
}

func TestRoomManager_PublishToUnknownRoom(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	assert.Equal(t, 0, rooms.Publish("entity:patient:missing", EventSyncEvent, nil))
}

func TestRoomManager_PublishAll(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	a := newTestConnection("user-1", "amina", "NURSE")
	b := newTestConnection("user-2", "joseph", "PHARMACIST")
	rooms.JoinDefaults(a)
	rooms.JoinDefaults(b)

	delivered := rooms.PublishAll(EventSyncEvent, map[string]any{"entityId": "p-1"})

	assert.Equal(t, 2, delivered)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestRoomManager_BroadcastIsolation(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	healthy1 := newTestConnection("user-1", "amina", "NURSE")
	healthy2 := newTestConnection("user-2", "joseph", "PHARMACIST")
	closed := newTestConnection("user-3", "grace", "ADMIN")

	rooms.Join(healthy1, RoomGeneral)
	rooms.Join(healthy2, RoomGeneral)
	rooms.Join(closed, RoomGeneral)

	closed.Close()

	delivered := rooms.Publish(RoomGeneral, EventSyncEvent, map[string]any{"entityId": "p-1"})

	// The closed connection fails delivery; the other two still receive.
	assert.Equal(t, 2, delivered)
	assert.Len(t, drain(healthy1), 1)
	assert.Len(t, drain(healthy2), 1)
}

func TestRoomManager_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	slow := NewConnection(auth.Identity{UserID: "user-1", Username: "amina", Role: "NURSE"}, 1)
	healthy := newTestConnection("user-2", "joseph", "NURSE")

	rooms.Join(slow, RoomGeneral)
	rooms.Join(healthy, RoomGeneral)

	// Fill the slow connection's buffer.
	assert.True(t, slow.Deliver(Envelope{Event: EventSyncEvent}))

	delivered := rooms.Publish(RoomGeneral, EventSyncEvent, nil)

	assert.Equal(t, 1, delivered)
	assert.Len(t, drain(healthy), 1)
}

func TestRoomManager_LeaveAll(t *testing.T) {
	rooms := NewRoomManager(zap.NewNop())

	conn := newTestConnection("user-1", "amina", "NURSE")
	peer := newTestConnection("user-2", "joseph", "NURSE")

	rooms.JoinDefaults(conn)
	rooms.JoinDefaults(peer)
	rooms.Join(conn, "entity:patient:p-1")

	rooms.LeaveAll(conn)

	assert.Empty(t, rooms.Rooms(conn))
	assert.Equal(t, 0, rooms.Publish("user:user-1", EventNotification, nil))

	// Shared rooms still deliver to the remaining member.
	assert.Equal(t, 1, rooms.Publish(RoomGeneral, EventSyncEvent, nil))
}
