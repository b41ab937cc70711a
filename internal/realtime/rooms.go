package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// RoomManager tracks room membership and performs fan-out writes. Delivery is
// fire-and-forget per connection: the member list is computed under the read
// lock, sends happen outside it, and a failed enqueue to one connection never
// blocks or fails delivery to the rest.
type RoomManager struct {
	logger *zap.Logger

	mu     sync.RWMutex
	byRoom map[string]map[*Connection]struct{}
	byConn map[*Connection]map[string]struct{}
}

func NewRoomManager(logger *zap.Logger) *RoomManager {
	return &RoomManager{
		logger: logger,
		byRoom: make(map[string]map[*Connection]struct{}),
		byConn: make(map[*Connection]map[string]struct{}),
	}
}

// Join is idempotent; joining a room twice is a no-op.
func (m *RoomManager) Join(conn *Connection, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byRoom[room]; !ok {
		m.byRoom[room] = make(map[*Connection]struct{})
	}
	m.byRoom[room][conn] = struct{}{}

	if _, ok := m.byConn[conn]; !ok {
		m.byConn[conn] = make(map[string]struct{})
	}
	m.byConn[conn][room] = struct{}{}
}

// JoinDefaults puts a freshly authenticated connection into its personal
// room, its role room when the role is non-empty, and the general room.
func (m *RoomManager) JoinDefaults(conn *Connection) {
	m.Join(conn, UserRoom(conn.UserID))
	if conn.Role != "" {
		m.Join(conn, RoleRoom(conn.Role))
	}
	m.Join(conn, RoomGeneral)
}

// Leave is idempotent; leaving a room the connection is not in is a no-op.
func (m *RoomManager) Leave(conn *Connection, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaveLocked(conn, room)
}

// LeaveAll removes the connection from every room it was a member of. Called
// on disconnect before registry removal.
func (m *RoomManager) LeaveAll(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for room := range m.byConn[conn] {
		m.leaveLocked(conn, room)
	}
}

func (m *RoomManager) leaveLocked(conn *Connection, room string) {
	if members, ok := m.byRoom[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(m.byRoom, room)
		}
	}

	if rooms, ok := m.byConn[conn]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.byConn, conn)
		}
	}
}

// Rooms returns the names of the rooms the connection currently belongs to.
func (m *RoomManager) Rooms(conn *Connection) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.byConn[conn]))
	for room := range m.byConn[conn] {
		rooms = append(rooms, room)
	}

	return rooms
}

// Publish delivers an event to every member of the room except the excluded
// connections. Returns the number of successful enqueues.
func (m *RoomManager) Publish(room, event string, data any, exclude ...*Connection) int {
	m.mu.RLock()
	members, ok := m.byRoom[room]
	if !ok {
		m.mu.RUnlock()

		return 0
	}

	targets := make([]*Connection, 0, len(members))
	for conn := range members {
		if !containsConn(exclude, conn) {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	return m.deliver(targets, Envelope{Event: event, Data: data})
}

// PublishAll delivers an event to every connection in any room.
func (m *RoomManager) PublishAll(event string, data any, exclude ...*Connection) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byConn))
	for conn := range m.byConn {
		if !containsConn(exclude, conn) {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	return m.deliver(targets, Envelope{Event: event, Data: data})
}

func (m *RoomManager) deliver(targets []*Connection, envelope Envelope) int {
	delivered := 0

	for _, conn := range targets {
		if conn.Deliver(envelope) {
			delivered++
			continue
		}

		m.logger.Debug("dropped delivery to slow or closed connection",
			zap.String("connectionId", conn.ID),
			zap.String("userId", conn.UserID),
			zap.String("event", envelope.Event))
	}

	return delivered
}

func containsConn(conns []*Connection, conn *Connection) bool {
	for _, c := range conns {
		if c == conn {
			return true
		}
	}

	return false
}
