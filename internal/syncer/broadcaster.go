package syncer

import (
	"context"
	"time"

	"github.com/clinicore/clinicsync/internal/audit"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Event announces a domain mutation to every connected client for live UI
// refresh. Events are not replayable: a client that was offline gets nothing,
// only the audit trail keeps a durable copy.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	EntityID      string    `json:"entityId"`
	EntityType    string    `json:"entityType"`
	Action        string    `json:"action"`
	Data          any       `json:"data,omitempty"`
	ActorUserID   string    `json:"userId"`
	ActorUsername string    `json:"username"`
	Timestamp     time.Time `json:"timestamp"`
}

// Broadcaster is pure fan-out with no targeting logic.
type Broadcaster struct {
	logger *zap.Logger
	rooms  *realtime.RoomManager
	audit  *audit.Appender
}

func NewBroadcaster(logger *zap.Logger, rooms *realtime.RoomManager, auditAppender *audit.Appender) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		rooms:  rooms,
		audit:  auditAppender,
	}
}

// Broadcast assigns an id and timestamp, publishes to every connection, and
// writes the audit entry.
func (b *Broadcaster) Broadcast(ctx context.Context, event Event) Event {
	event.ID = gonanoid.Must()
	event.Timestamp = time.Now()

	delivered := b.rooms.PublishAll(realtime.EventSyncEvent, event)

	b.logger.Debug("sync event broadcast",
		zap.String("type", event.Type),
		zap.String("entityType", event.EntityType),
		zap.String("action", event.Action),
		zap.Int("delivered", delivered))

	b.audit.Append(store.Entry{
		EventType:  "SYSTEM",
		UserID:     event.ActorUserID,
		Username:   event.ActorUsername,
		TargetType: event.EntityType,
		TargetID:   event.EntityID,
		Action:     "sync_" + event.Action,
		Details:    event,
		Severity:   store.SeverityMedium,
	})

	return event
}
