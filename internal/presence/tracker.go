package presence

import (
	"context"
	"sync"
	"time"

	"github.com/clinicore/clinicsync/internal/audit"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/store"
	"go.uber.org/zap"
)

type ActivityPayload struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Activity  string    `json:"activity"`
	Page      string    `json:"page"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingPayload struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	IsTyping   bool   `json:"isTyping"`
}

type UpdatePayload struct {
	UserID    string               `json:"userId"`
	Status    store.PresenceStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// Tracker maintains per-user presence: online/away/busy/offline, last seen,
// current page/activity, and typing indicators. Store writes are best-effort
// with a short timeout; the live broadcast proceeds even when the durable
// write fails, so real-time behavior degrades gracefully under store outages.
type Tracker struct {
	logger *zap.Logger
	store  store.PresenceStore
	rooms  *realtime.RoomManager
	audit  *audit.Appender

	storeTimeout time.Duration
	staleAfter   time.Duration
	purgeAfter   time.Duration

	mu        sync.RWMutex
	snapshots map[string]store.Presence
}

func NewTracker(
	logger *zap.Logger,
	presenceStore store.PresenceStore,
	rooms *realtime.RoomManager,
	auditAppender *audit.Appender,
	storeTimeout time.Duration,
	staleAfter time.Duration,
	purgeAfter time.Duration,
) *Tracker {
	return &Tracker{
		logger:       logger,
		store:        presenceStore,
		rooms:        rooms,
		audit:        auditAppender,
		storeTimeout: storeTimeout,
		staleAfter:   staleAfter,
		purgeAfter:   purgeAfter,
		snapshots:    make(map[string]store.Presence),
	}
}

// RecordActivity upserts presence for the connection's user and tells that
// user's role peers what they are doing.
func (t *Tracker) RecordActivity(ctx context.Context, conn *realtime.Connection, activity, page string) {
	now := time.Now()

	t.applySnapshot(conn.UserID, func(p *store.Presence) {
		p.Status = store.StatusOnline
		p.LastSeen = now
		p.CurrentActivity = activity
		p.CurrentPage = page
	})

	t.upsert(ctx, conn.UserID, store.PresenceUpdate{
		Status:          store.StatusOnline,
		CurrentActivity: &activity,
		CurrentPage:     &page,
	})

	if conn.Role != "" {
		t.rooms.Publish(realtime.RoleRoom(conn.Role), realtime.EventUserActivity, ActivityPayload{
			UserID:    conn.UserID,
			Username:  conn.Username,
			Activity:  activity,
			Page:      page,
			Timestamp: now,
		}, conn)
	}

	t.audit.Append(store.Entry{
		EventType:  "USER",
		UserID:     conn.UserID,
		Username:   conn.Username,
		TargetType: "activity",
		TargetID:   page,
		Action:     "user_activity",
		Details:    map[string]any{"activity": activity, "page": page},
		Severity:   store.SeverityLow,
	})
}

// SetTyping broadcasts a typing indicator to the target room, excluding the
// sender so it never sees its own echo. Ephemeral: the in-memory snapshot is
// updated but nothing is persisted.
func (t *Tracker) SetTyping(conn *realtime.Connection, room, entityID, entityType string, isTyping bool) {
	t.applySnapshot(conn.UserID, func(p *store.Presence) {
		p.IsTyping = isTyping
		if isTyping {
			p.TypingEntityID = entityID
			p.TypingEntityType = entityType
		} else {
			p.TypingEntityID = ""
			p.TypingEntityType = ""
		}
		p.LastSeen = time.Now()
	})

	t.rooms.Publish(room, realtime.EventUserTyping, TypingPayload{
		UserID:     conn.UserID,
		Username:   conn.Username,
		EntityID:   entityID,
		EntityType: entityType,
		IsTyping:   isTyping,
	}, conn)
}

// MarkOnline is called by the gateway on a successful connect.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	t.setStatus(ctx, userID, store.StatusOnline)
}

// MarkOffline is called by the gateway on disconnect. Typing state is cleared
// so stale indicators don't survive the session.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	t.setStatus(ctx, userID, store.StatusOffline)
}

func (t *Tracker) setStatus(ctx context.Context, userID string, status store.PresenceStatus) {
	now := time.Now()

	t.applySnapshot(userID, func(p *store.Presence) {
		p.Status = status
		p.LastSeen = now
		if status == store.StatusOffline {
			p.IsTyping = false
			p.TypingEntityID = ""
			p.TypingEntityType = ""
		}
	})

	update := store.PresenceUpdate{Status: status}
	if status == store.StatusOffline {
		notTyping := false
		empty := ""
		update.IsTyping = &notTyping
		update.TypingEntityID = &empty
		update.TypingEntityType = &empty
	}
	t.upsert(ctx, userID, update)

	t.rooms.PublishAll(realtime.EventPresenceUpdate, UpdatePayload{
		UserID:    userID,
		Status:    status,
		Timestamp: now,
	})
}

// Snapshot returns the in-memory presence view for a user.
func (t *Tracker) Snapshot(userID string) (store.Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.snapshots[userID]

	return p, ok
}

// SweepStale flips records not seen within the stale threshold to offline and
// purges records past the retention window, in the store and in the in-memory
// snapshot cache alike. Returns store counts for observability.
func (t *Tracker) SweepStale(ctx context.Context) (flipped, purged int64, err error) {
	now := time.Now()

	// Sweep the cache first so it cannot grow unbounded during a store outage.
	t.sweepSnapshots(now)

	flipped, err = t.store.MarkStaleOffline(ctx, now.Add(-t.staleAfter))
	if err != nil {
		return 0, 0, err
	}

	purged, err = t.store.PurgeOlderThan(ctx, now.Add(-t.purgeAfter))
	if err != nil {
		return flipped, 0, err
	}

	return flipped, purged, nil
}

// RunSweeper runs the staleness sweep on a fixed interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, t.storeTimeout)
			flipped, purged, err := t.SweepStale(sweepCtx)
			cancel()

			if err != nil {
				t.logger.Warn("presence sweep failed", zap.Error(err))
				continue
			}

			if flipped > 0 || purged > 0 {
				t.logger.Info("presence sweep completed",
					zap.Int64("markedOffline", flipped),
					zap.Int64("purged", purged))
			}
		}
	}
}

func (t *Tracker) sweepSnapshots(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, p := range t.snapshots {
		age := now.Sub(p.LastSeen)

		if age > t.purgeAfter {
			delete(t.snapshots, userID)
			continue
		}

		if age > t.staleAfter && p.Status != store.StatusOffline {
			p.Status = store.StatusOffline
			p.IsTyping = false
			p.TypingEntityID = ""
			p.TypingEntityType = ""
			p.UpdatedAt = now
			t.snapshots[userID] = p
		}
	}
}

func (t *Tracker) applySnapshot(userID string, mutate func(*store.Presence)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.snapshots[userID]
	if !ok {
		p = store.Presence{UserID: userID, Status: store.StatusOnline, LastSeen: time.Now()}
	}
	mutate(&p)
	p.UpdatedAt = time.Now()
	t.snapshots[userID] = p
}

func (t *Tracker) upsert(ctx context.Context, userID string, update store.PresenceUpdate) {
	storeCtx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()

	_, err := t.store.Upsert(storeCtx, userID, update)
	if err != nil {
		t.logger.Warn("presence upsert failed",
			zap.String("userId", userID),
			zap.Error(err))
	}
}
