package server

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/clinicore/clinicsync/internal/presence"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

type ConnectedPayload struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	Role           string `json:"role"`
	ConnectedUsers int    `json:"connectedUsers"`
}

type DisconnectedPayload struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// sessionLocks serializes connect setup and teardown for the same user id, so
// a disconnect racing a reconnect cannot persist a stale offline status over
// the live session. Striping keeps memory fixed regardless of user count.
type sessionLocks struct {
	stripes [64]sync.Mutex
}

func (l *sessionLocks) forUser(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))

	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// WebSocketServer is the connection gateway: it terminates the websocket
// protocol, authenticates the handshake, wires the connection into the
// registry and default rooms, and runs the read/write pumps.
type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	verifier *auth.Verifier
	registry *realtime.Registry
	rooms    *realtime.RoomManager
	presence *presence.Tracker
	router   *Router

	sessions sessionLocks
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	verifier *auth.Verifier,
	registry *realtime.Registry,
	rooms *realtime.RoomManager,
	tracker *presence.Tracker,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger:   logger,
		upgrader: upgrader,
		verifier: verifier,
		registry: registry,
		rooms:    rooms,
		presence: tracker,
		router:   router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/ws", s.handle)
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	// Authenticate before upgrading; a rejected credential never reaches the
	// registry and no room state exists for it.
	identity, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Info("websocket handshake rejected", zap.Error(err))
		http.Error(w, "invalid authentication token", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := realtime.NewConnection(identity, sendBufferSize)
	ctx := r.Context()

	s.register(ctx, conn)

	s.logger.Info("user connected",
		zap.String("userId", conn.UserID),
		zap.String("username", conn.Username),
		zap.String("role", conn.Role))

	// Count is observational and may race with concurrent connects.
	conn.Deliver(realtime.Envelope{
		Event: realtime.EventConnected,
		Data: ConnectedPayload{
			UserID:         conn.UserID,
			Username:       conn.Username,
			Role:           conn.Role,
			ConnectedUsers: s.registry.Count(),
		},
	})

	go s.writePump(wsConn, conn)
	s.readPump(ctx, wsConn, conn)

	// The request context dies with the socket; teardown still has to
	// persist the offline transition.
	s.teardown(context.Background(), conn)
}

// register wires a freshly authenticated connection into the registry, the
// default rooms, and the presence store. Latest connection wins: the displaced
// handle is pulled out of every room so it is no longer reachable, then
// released; its own teardown sees it is no longer current and skips the
// presence transition. Serialized per user against teardown.
func (s *WebSocketServer) register(ctx context.Context, conn *realtime.Connection) {
	userLock := s.sessions.forUser(conn.UserID)
	userLock.Lock()
	defer userLock.Unlock()

	if displaced := s.registry.Add(conn); displaced != nil {
		s.rooms.LeaveAll(displaced)
		displaced.Close()
	}

	s.rooms.JoinDefaults(conn)
	s.presence.MarkOnline(ctx, conn.UserID)
}

func (s *WebSocketServer) readPump(ctx context.Context, wsConn *websocket.Conn, conn *realtime.Connection) {
	wsConn.SetReadLimit(maxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var envelope InboundEnvelope
		err := wsConn.ReadJSON(&envelope)
		if err != nil {
			// Malformed JSON is dropped without killing the session;
			// anything else means the connection is gone.
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.logger.Debug("dropping malformed inbound message",
					zap.String("userId", conn.UserID),
					zap.Error(err))
				continue
			}

			return
		}

		s.router.Route(ctx, conn, envelope)
	}
}

func (s *WebSocketServer) writePump(wsConn *websocket.Conn, conn *realtime.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = wsConn.Close()
	}()

	for {
		select {
		case envelope := <-conn.Send:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsConn.WriteJSON(envelope); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// teardown runs the disconnect sequence: leave all rooms, mark the user
// offline, remove from the registry, announce the departure. A connection
// displaced by a reconnect only leaves its rooms; the presence transition
// belongs to whichever connection is current. The user lock keeps the
// currency check and the offline transition atomic against a concurrent
// reconnect, which would otherwise see its fresh online status overwritten.
func (s *WebSocketServer) teardown(ctx context.Context, conn *realtime.Connection) {
	userLock := s.sessions.forUser(conn.UserID)
	userLock.Lock()

	current := s.registry.IsCurrent(conn.UserID, conn.ID)

	s.rooms.LeaveAll(conn)

	if current {
		s.presence.MarkOffline(ctx, conn.UserID)
		s.registry.Remove(conn.UserID, conn.ID)
	}

	userLock.Unlock()

	if current {
		s.rooms.PublishAll(realtime.EventUserDisconnected, DisconnectedPayload{
			UserID:    conn.UserID,
			Username:  conn.Username,
			Timestamp: time.Now(),
		}, conn)

		s.logger.Info("user disconnected",
			zap.String("userId", conn.UserID),
			zap.String("username", conn.Username))
	}

	conn.Close()
}
