package notify

import (
	"context"
	"slices"
	"time"

	"github.com/clinicore/clinicsync/internal/audit"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// Notification is the dispatch input; ids, timestamps and per-recipient rows
// are assigned here.
type Notification struct {
	Type     store.NotificationType `json:"type"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Data     map[string]any         `json:"data,omitempty"`
	Priority store.Priority         `json:"priority"`
}

type Target struct {
	Users        []string `json:"users,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	ExcludeUsers []string `json:"excludeUsers,omitempty"`
}

type Payload struct {
	ID        string                 `json:"id"`
	Type      store.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]any         `json:"data,omitempty"`
	Priority  store.Priority         `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

// Dispatcher fans a notification out to a target set. User-targeted
// notifications are persisted one row per recipient so offline users can
// retrieve them later; role-targeted ones are broadcast-only and do not
// survive disconnection. That asymmetry matches the observed behavior of the
// clinic backend and is kept deliberately.
type Dispatcher struct {
	logger   *zap.Logger
	store    store.NotificationStore
	registry *realtime.Registry
	rooms    *realtime.RoomManager
	audit    *audit.Appender

	storeTimeout time.Duration
}

func NewDispatcher(
	logger *zap.Logger,
	notificationStore store.NotificationStore,
	registry *realtime.Registry,
	rooms *realtime.RoomManager,
	auditAppender *audit.Appender,
	storeTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		logger:       logger,
		store:        notificationStore,
		registry:     registry,
		rooms:        rooms,
		audit:        auditAppender,
		storeTimeout: storeTimeout,
	}
}

// Send delivers to the target set. Persistence failure for one recipient is
// logged and must not prevent delivery attempts to the rest.
func (d *Dispatcher) Send(ctx context.Context, n Notification, target Target) Payload {
	payload := d.newPayload(n)

	for _, userID := range target.Users {
		if slices.Contains(target.ExcludeUsers, userID) {
			continue
		}

		d.persist(ctx, userID, n)

		if d.registry.IsConnected(userID) {
			d.rooms.Publish(realtime.UserRoom(userID), realtime.EventNotification, payload)
		}
	}

	for _, role := range target.Roles {
		d.rooms.Publish(realtime.RoleRoom(role), realtime.EventNotification, payload)
	}

	d.auditDispatch(payload, "notification_sent")

	return payload
}

// Broadcast pushes to every connection with no targeting.
func (d *Dispatcher) Broadcast(ctx context.Context, n Notification) Payload {
	payload := d.newPayload(n)

	d.rooms.PublishAll(realtime.EventNotification, payload)
	d.auditDispatch(payload, "notification_broadcast")

	return payload
}

// RunRetention purges notifications past the retention window on an interval.
func (d *Dispatcher) RunRetention(ctx context.Context, interval, retainFor time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
			purged, err := d.store.PurgeOlderThan(purgeCtx, time.Now().Add(-retainFor))
			cancel()

			if err != nil {
				d.logger.Warn("notification retention sweep failed", zap.Error(err))
				continue
			}

			if purged > 0 {
				d.logger.Info("purged old notifications", zap.Int64("count", purged))
			}
		}
	}
}

func (d *Dispatcher) newPayload(n Notification) Payload {
	if n.Priority == "" {
		n.Priority = store.PriorityMedium
	}

	return Payload{
		ID:        gonanoid.Must(),
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Priority:  n.Priority,
		Timestamp: time.Now(),
	}
}

func (d *Dispatcher) persist(ctx context.Context, userID string, n Notification) {
	storeCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()

	_, err := d.store.Create(storeCtx, store.Notification{
		UserID:   userID,
		Type:     n.Type,
		Title:    n.Title,
		Message:  n.Message,
		Data:     n.Data,
		Priority: n.Priority,
	})
	if err != nil {
		d.logger.Warn("failed to persist notification",
			zap.String("userId", userID),
			zap.String("type", string(n.Type)),
			zap.Error(err))
	}
}

func (d *Dispatcher) auditDispatch(payload Payload, action string) {
	d.audit.Append(store.Entry{
		EventType:  "SYSTEM",
		UserID:     "system",
		Username:   "system",
		TargetType: "notification",
		TargetID:   payload.ID,
		Action:     action,
		Details:    payload,
		Severity:   audit.SeverityForPriority(payload.Priority),
	})
}
