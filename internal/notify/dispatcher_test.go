package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/clinicsync/internal/audit"
	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/store"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeNotificationStore struct {
	mu      sync.Mutex
	rows    []store.Notification
	failFor map[string]error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{failFor: make(map[string]error)}
}

func (f *fakeNotificationStore) Create(_ context.Context, n store.Notification) (store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failFor[n.UserID]; ok {
		return store.Notification{}, err
	}

	n.ID = "row-" + n.UserID
	n.CreatedAt = time.Now()
	f.rows = append(f.rows, n)

	return n, nil
}

func (f *fakeNotificationStore) GetUnreadCount(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, row := range f.rows {
		if row.UserID == userID && !row.IsRead {
			count++
		}
	}

	return count, nil
}

func (f *fakeNotificationStore) ListForUser(_ context.Context, userID string, _ store.ListOptions) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []store.Notification
	for _, row := range f.rows {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}

	return rows, nil
}

func (f *fakeNotificationStore) MarkRead(context.Context, string, string) error { return nil }

func (f *fakeNotificationStore) MarkAllRead(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeNotificationStore) PurgeOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeNotificationStore) rowsFor(userID string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rows []store.Notification
	for _, row := range f.rows {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}

	return rows
}

type nopEventLog struct{}

func (nopEventLog) Append(context.Context, store.Entry) error { return nil }

func (nopEventLog) Recent(context.Context, time.Time, int64) ([]store.Entry, error) {
	return nil, nil
}

type harness struct {
	dispatcher *Dispatcher
	registry   *realtime.Registry
	rooms      *realtime.RoomManager
	store      *fakeNotificationStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := realtime.NewRegistry(zap.NewNop())
	rooms := realtime.NewRoomManager(zap.NewNop())
	notificationStore := newFakeNotificationStore()
	appender := audit.NewAppender(zap.NewNop(), nopEventLog{}, 64, time.Second)
	t.Cleanup(appender.Close)

	dispatcher := NewDispatcher(zap.NewNop(), notificationStore, registry, rooms, appender, time.Second)

	return &harness{
		dispatcher: dispatcher,
		registry:   registry,
		rooms:      rooms,
		store:      notificationStore,
	}
}

func (h *harness) connect(userID, username, role string) *realtime.Connection {
	conn := realtime.NewConnection(auth.Identity{UserID: userID, Username: username, Role: role}, 8)
	h.registry.Add(conn)
	h.rooms.JoinDefaults(conn)

	return conn
}

func drain(conn *realtime.Connection) []realtime.Envelope {
	var envelopes []realtime.Envelope
	for {
		select {
		case envelope := <-conn.Send:
			envelopes = append(envelopes, envelope)
		default:
			return envelopes
		}
	}
}

func TestDispatcher_UserTargetOffline(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationSystemAlert,
		Title:   "Test",
		Message: "offline user still gets a row",
	}, Target{Users: []string{"user-1"}})

	// One persisted row, zero live deliveries.
	assert.Len(t, h.store.rowsFor("user-1"), 1)
}

func TestDispatcher_UserTargetOnline(t *testing.T) {
	h := newHarness(t)
	conn := h.connect("user-1", "amina", "NURSE")

	payload := h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationLabResult,
		Title:   "Lab Result Available",
		Message: "results ready",
	}, Target{Users: []string{"user-1"}})

	rows := h.store.rowsFor("user-1")
	assert.Len(t, rows, 1)
	assert.Equal(t, store.NotificationLabResult, rows[0].Type)

	envelopes := drain(conn)
	assert.Len(t, envelopes, 1)
	assert.Equal(t, realtime.EventNotification, envelopes[0].Event)
	assert.Equal(t, payload.ID, envelopes[0].Data.(Payload).ID)
}

func TestDispatcher_RoleTargetIsBroadcastOnly(t *testing.T) {
	h := newHarness(t)
	pharmacist := h.connect("user-1", "joseph", "PHARMACIST")
	nurse := h.connect("user-2", "amina", "NURSE")

	h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationPrescriptionUpdate,
		Title:   "Prescription Updated",
		Message: "check the queue",
	}, Target{Roles: []string{"PHARMACIST"}})

	// No rows persisted for role targets; only connected role members see it.
	assert.Empty(t, h.store.rows)
	assert.Len(t, drain(pharmacist), 1)
	assert.Empty(t, drain(nurse))
}

func TestDispatcher_ExcludeUsers(t *testing.T) {
	h := newHarness(t)
	excluded := h.connect("user-1", "amina", "NURSE")
	included := h.connect("user-2", "joseph", "NURSE")

	h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationVisitUpdate,
		Title:   "Visit Scheduled",
		Message: "tomorrow 9am",
	}, Target{
		Users:        []string{"user-1", "user-2"},
		ExcludeUsers: []string{"user-1"},
	})

	assert.Empty(t, h.store.rowsFor("user-1"))
	assert.Len(t, h.store.rowsFor("user-2"), 1)
	assert.Empty(t, drain(excluded))
	assert.Len(t, drain(included), 1)
}

func TestDispatcher_PersistenceFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.store.failFor["user-1"] = errors.New("store down")
	broken := h.connect("user-1", "amina", "NURSE")
	healthy := h.connect("user-2", "joseph", "NURSE")

	h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationSystemAlert,
		Title:   "Maintenance",
		Message: "tonight",
	}, Target{Users: []string{"user-1", "user-2"}})

	// The failed row must not stop the rest; live push still happens for both.
	assert.Empty(t, h.store.rowsFor("user-1"))
	assert.Len(t, h.store.rowsFor("user-2"), 1)
	assert.Len(t, drain(broken), 1)
	assert.Len(t, drain(healthy), 1)
}

func TestDispatcher_Broadcast(t *testing.T) {
	h := newHarness(t)
	a := h.connect("user-1", "amina", "NURSE")
	b := h.connect("user-2", "joseph", "PHARMACIST")

	h.dispatcher.Broadcast(context.Background(), Notification{
		Type:    store.NotificationSystemAlert,
		Title:   "System Maintenance",
		Message: "back in 5 minutes",
	})

	assert.Empty(t, h.store.rows)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestDispatcher_DefaultPriority(t *testing.T) {
	h := newHarness(t)

	payload := h.dispatcher.Send(context.Background(), Notification{
		Type:    store.NotificationSystemAlert,
		Title:   "Test",
		Message: "no priority given",
	}, Target{Users: []string{"user-1"}})

	assert.Equal(t, store.PriorityMedium, payload.Priority)
}

func TestSenders_LabResultUrgency(t *testing.T) {
	h := newHarness(t)
	officer := h.connect("user-1", "grace", "CLINICAL_OFFICER")

	payload := h.dispatcher.LabResultReady(context.Background(), "John Doe", "URGENT", nil)
	assert.Equal(t, store.PriorityUrgent, payload.Priority)

	payload = h.dispatcher.LabResultReady(context.Background(), "John Doe", "ROUTINE", nil)
	assert.Equal(t, store.PriorityMedium, payload.Priority)

	assert.Len(t, drain(officer), 2)
}

func TestSenders_AssignmentCreatedPersistsForAssignee(t *testing.T) {
	h := newHarness(t)

	h.dispatcher.AssignmentCreated(context.Background(), "user-7", "John Doe", "URGENT", nil)

	rows := h.store.rowsFor("user-7")
	assert.Len(t, rows, 1)
	assert.Equal(t, store.NotificationPatientAssignment, rows[0].Type)
	assert.Equal(t, store.PriorityUrgent, rows[0].Priority)
}
