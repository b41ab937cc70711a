package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// ConnectedUser is a read-only projection for the status surface.
type ConnectedUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Registry is the single source of truth for who is currently connected.
// One active connection per user id; a reconnect displaces the previous one.
type Registry struct {
	logger *zap.Logger

	mu     sync.RWMutex
	byUser map[string]*Connection
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		byUser: make(map[string]*Connection),
	}
}

// Add registers the connection for its user id and returns the connection it
// displaced, if any. The displaced handle is not closed here; the caller
// decides how to retire it.
func (r *Registry) Add(conn *Connection) *Connection {
	r.mu.Lock()
	displaced := r.byUser[conn.UserID]
	r.byUser[conn.UserID] = conn
	r.mu.Unlock()

	if displaced != nil {
		r.logger.Info("connection displaced by reconnect",
			zap.String("userId", conn.UserID),
			zap.String("oldConnectionId", displaced.ID),
			zap.String("newConnectionId", conn.ID))
	}

	return displaced
}

// Remove drops the registration only if connID is still the user's current
// connection. Removing an absent or already-displaced connection is a no-op.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[userID]
	if !ok || current.ID != connID {
		return false
	}

	delete(r.byUser, userID)

	return true
}

func (r *Registry) Get(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]

	return conn, ok
}

func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]

	return ok
}

// IsCurrent reports whether connID is still the live connection for userID.
func (r *Registry) IsCurrent(userID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.byUser[userID]

	return ok && current.ID == connID
}

// Count reflects registry size at time of call; it may race with concurrent
// connects and disconnects and must not be treated as exact.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}

func (r *Registry) Snapshot() []ConnectedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]ConnectedUser, 0, len(r.byUser))
	for _, conn := range r.byUser {
		users = append(users, ConnectedUser{
			UserID:   conn.UserID,
			Username: conn.Username,
			Role:     conn.Role,
		})
	}

	return users
}
