package realtime

import (
	"sync"

	"github.com/clinicore/clinicsync/internal/auth"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Envelope is the outbound wire shape. Every server-to-client message is an
// event name plus a JSON payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Connection is the registry's handle for one live socket. The Send channel
// is drained by the connection's write pump; nothing else reads from it.
type Connection struct {
	ID       string
	UserID   string
	Username string
	Role     string
	Send     chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func NewConnection(identity auth.Identity, sendBuffer int) *Connection {
	return &Connection{
		ID:       gonanoid.Must(),
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
		Send:     make(chan Envelope, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Deliver enqueues an envelope without blocking. A closed connection or a
// full send buffer counts as a delivery failure for this connection only.
func (c *Connection) Deliver(envelope Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- envelope:
		return true
	default:
		return false
	}
}

// Close releases the write pump. The Send channel is never closed, so
// concurrent Deliver calls can race with Close safely.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}
