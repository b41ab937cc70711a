package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinicore/clinicsync/internal/presence"
	"github.com/clinicore/clinicsync/internal/realtime"
	"go.uber.org/zap"
)

// InboundEnvelope is the client-to-server wire shape.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type activityRequest struct {
	Activity string `json:"activity"`
	Page     string `json:"page"`
}

type typingRequest struct {
	Room       string `json:"room"`
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

type entityEditRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

type EntityEditPayload struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	EntityID   string    `json:"entityId"`
	EntityType string    `json:"entityType"`
	Timestamp  time.Time `json:"timestamp"`
}

// Router dispatches inbound client events. The event set is closed;
// unrecognized events and malformed payloads are dropped silently, never
// fatal to the connection. Inbound control messages are fire-and-forget, so
// handlers return nothing.
type Router struct {
	logger   *zap.Logger
	rooms    *realtime.RoomManager
	presence *presence.Tracker
}

func NewRouter(logger *zap.Logger, rooms *realtime.RoomManager, tracker *presence.Tracker) *Router {
	return &Router{
		logger:   logger,
		rooms:    rooms,
		presence: tracker,
	}
}

func (r *Router) Route(ctx context.Context, conn *realtime.Connection, envelope InboundEnvelope) {
	switch envelope.Event {
	case "user_activity":
		var req activityRequest
		if !r.decode(conn, envelope, &req) {
			return
		}
		r.presence.RecordActivity(ctx, conn, req.Activity, req.Page)

	case "typing_start":
		r.handleTyping(conn, envelope, true)

	case "typing_stop":
		r.handleTyping(conn, envelope, false)

	case "entity_edit_start":
		var req entityEditRequest
		if !r.decode(conn, envelope, &req) || req.EntityID == "" || req.EntityType == "" {
			return
		}

		room := realtime.EntityRoom(req.EntityType, req.EntityID)
		r.rooms.Publish(room, realtime.EventEntityEditStart, EntityEditPayload{
			UserID:     conn.UserID,
			Username:   conn.Username,
			EntityID:   req.EntityID,
			EntityType: req.EntityType,
			Timestamp:  time.Now(),
		}, conn)
		r.rooms.Join(conn, room)

	case "entity_edit_stop":
		var req entityEditRequest
		if !r.decode(conn, envelope, &req) || req.EntityID == "" || req.EntityType == "" {
			return
		}

		room := realtime.EntityRoom(req.EntityType, req.EntityID)
		r.rooms.Publish(room, realtime.EventEntityEditStop, EntityEditPayload{
			UserID:     conn.UserID,
			Username:   conn.Username,
			EntityID:   req.EntityID,
			EntityType: req.EntityType,
			Timestamp:  time.Now(),
		}, conn)
		r.rooms.Leave(conn, room)

	default:
		r.logger.Debug("ignoring unrecognized client event",
			zap.String("event", envelope.Event),
			zap.String("userId", conn.UserID))
	}
}

func (r *Router) handleTyping(conn *realtime.Connection, envelope InboundEnvelope, isTyping bool) {
	var req typingRequest
	if !r.decode(conn, envelope, &req) || req.Room == "" {
		return
	}

	r.presence.SetTyping(conn, req.Room, req.EntityID, req.EntityType, isTyping)
}

func (r *Router) decode(conn *realtime.Connection, envelope InboundEnvelope, v any) bool {
	if len(envelope.Data) == 0 {
		return false
	}

	err := json.Unmarshal(envelope.Data, v)
	if err != nil {
		r.logger.Debug("dropping event with malformed payload",
			zap.String("event", envelope.Event),
			zap.String("userId", conn.UserID),
			zap.Error(err))

		return false
	}

	return true
}
