package store

import (
	"context"
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Presence is one record per user, not per connection. Created lazily on the
// first update, upserted on every activity, and aged out by the sweep job
// rather than deleted on disconnect.
type Presence struct {
	UserID           string         `json:"userId"`
	Status           PresenceStatus `json:"status"`
	LastSeen         time.Time      `json:"lastSeen"`
	CurrentPage      string         `json:"currentPage,omitempty"`
	CurrentActivity  string         `json:"currentActivity,omitempty"`
	IsTyping         bool           `json:"isTyping"`
	TypingEntityID   string         `json:"typingEntityId,omitempty"`
	TypingEntityType string         `json:"typingEntityType,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// PresenceUpdate is a partial upsert; nil pointer fields keep their stored
// value, mirroring the COALESCE semantics of the relational original.
type PresenceUpdate struct {
	Status           PresenceStatus
	CurrentPage      *string
	CurrentActivity  *string
	IsTyping         *bool
	TypingEntityID   *string
	TypingEntityType *string
}

type PresenceStore interface {
	Upsert(ctx context.Context, userID string, update PresenceUpdate) (Presence, error)
	GetOnline(ctx context.Context) ([]Presence, error)

	// MarkStaleOffline flips records whose lastSeen is older than the cutoff
	// to offline and returns how many were affected.
	MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error)

	// PurgeOlderThan deletes records past the retention window.
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

type NotificationType string

const (
	NotificationPatientAssignment  NotificationType = "patient_assignment"
	NotificationPrescriptionUpdate NotificationType = "prescription_update"
	NotificationLabResult          NotificationType = "lab_result"
	NotificationPaymentReceived    NotificationType = "payment_received"
	NotificationVisitUpdate        NotificationType = "visit_update"
	NotificationSystemAlert        NotificationType = "system_alert"
	NotificationSyncEvent          NotificationType = "sync_event"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is one row per (recipient, message).
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Priority  Priority         `json:"priority"`
	IsRead    bool             `json:"isRead"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type ListOptions struct {
	UnreadOnly bool
	Type       NotificationType
	Limit      int64
	Offset     int64
}

type NotificationStore interface {
	Create(ctx context.Context, notification Notification) (Notification, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	ListForUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Entry is a durable audit record. The event log is an audit trail, not a
// redelivery mechanism: nothing in this core replays entries to clients.
type Entry struct {
	ID         string    `json:"id"`
	EventType  string    `json:"eventType"`
	UserID     string    `json:"userId,omitempty"`
	Username   string    `json:"username,omitempty"`
	TargetType string    `json:"targetType,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	Action     string    `json:"action"`
	Details    any       `json:"details,omitempty"`
	Severity   Severity  `json:"severity"`
	CreatedAt  time.Time `json:"createdAt"`
}

type EventLog interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, since time.Time, limit int64) ([]Entry, error)
}
