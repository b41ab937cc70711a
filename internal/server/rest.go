package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/clinicore/clinicsync/internal/ierr"
	"github.com/clinicore/clinicsync/internal/notify"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/store"
	"github.com/clinicore/clinicsync/internal/syncer"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RESTServer is the server-to-server surface. The CRUD layer (out of scope
// here) calls these endpoints to trigger broadcasts and dispatches; the
// status endpoint is a thin read-only composition over the collaborators.
type RESTServer struct {
	logger      *zap.Logger
	verifier    *auth.Verifier
	dispatcher  *notify.Dispatcher
	broadcaster *syncer.Broadcaster
	registry    *realtime.Registry

	presenceStore     store.PresenceStore
	notificationStore store.NotificationStore
	eventLog          store.EventLog
}

func NewRESTServer(
	logger *zap.Logger,
	verifier *auth.Verifier,
	dispatcher *notify.Dispatcher,
	broadcaster *syncer.Broadcaster,
	registry *realtime.Registry,
	presenceStore store.PresenceStore,
	notificationStore store.NotificationStore,
	eventLog store.EventLog,
) *RESTServer {
	return &RESTServer{
		logger:            logger,
		verifier:          verifier,
		dispatcher:        dispatcher,
		broadcaster:       broadcaster,
		registry:          registry,
		presenceStore:     presenceStore,
		notificationStore: notificationStore,
		eventLog:          eventLog,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/sync/status", s.requireAPIKey(s.handleStatus)).Methods("GET")
	router.HandleFunc("/sync/events", s.requireAPIKey(s.handleSyncEvent)).Methods("POST")
	router.HandleFunc("/notifications", s.requireAPIKey(s.handleSendNotification)).Methods("POST")
	router.HandleFunc("/notifications", s.requireAPIKey(s.handleListNotifications)).Methods("GET")
	router.HandleFunc("/notifications/read-all", s.requireAPIKey(s.handleMarkAllRead)).Methods("PATCH")
	router.HandleFunc("/notifications/{id}/read", s.requireAPIKey(s.handleMarkRead)).Methods("PATCH")
}

func (s *RESTServer) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if err := s.verifier.VerifyAPIKey(key); err != nil {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (s *RESTServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	ConnectedUsers       int                      `json:"connectedUsers"`
	OnlineUsers          int                      `json:"onlineUsers"`
	RecentSyncEvents     int                      `json:"recentSyncEvents"`
	PendingNotifications int64                    `json:"pendingNotifications,omitempty"`
	Connections          []realtime.ConnectedUser `json:"connections"`
	LastUpdated          time.Time                `json:"lastUpdated"`
}

// handleStatus composes aggregate counters from the registry and the stores.
// Counts are observational; they may race with concurrent churn.
func (s *RESTServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := statusResponse{
		ConnectedUsers: s.registry.Count(),
		Connections:    s.registry.Snapshot(),
		LastUpdated:    time.Now(),
	}

	online, err := s.presenceStore.GetOnline(ctx)
	if err != nil {
		s.logger.Warn("failed to read online presence", zap.Error(err))
	} else {
		status.OnlineUsers = len(online)
	}

	recent, err := s.eventLog.Recent(ctx, time.Now().Add(-time.Hour), 500)
	if err != nil {
		s.logger.Warn("failed to read recent events", zap.Error(err))
	} else {
		status.RecentSyncEvents = len(recent)
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		pending, err := s.notificationStore.GetUnreadCount(ctx, userID)
		if err != nil {
			s.logger.Warn("failed to count unread notifications",
				zap.String("userId", userID),
				zap.Error(err))
		} else {
			status.PendingNotifications = pending
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

type syncEventRequest struct {
	Type          string `json:"type"`
	EntityID      string `json:"entityId"`
	EntityType    string `json:"entityType"`
	Action        string `json:"action"`
	Data          any    `json:"data,omitempty"`
	ActorUserID   string `json:"userId"`
	ActorUsername string `json:"username"`
}

func (s *RESTServer) handleSyncEvent(w http.ResponseWriter, r *http.Request) {
	var req syncEventRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.EntityID == "" || req.EntityType == "" {
		http.Error(w, "entityId and entityType are required", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case syncer.ActionCreate, syncer.ActionUpdate, syncer.ActionDelete:
	default:
		http.Error(w, "action must be create, update or delete", http.StatusBadRequest)
		return
	}

	event := s.broadcaster.Broadcast(r.Context(), syncer.Event{
		Type:          req.Type,
		EntityID:      req.EntityID,
		EntityType:    req.EntityType,
		Action:        req.Action,
		Data:          req.Data,
		ActorUserID:   req.ActorUserID,
		ActorUsername: req.ActorUsername,
	})

	s.writeJSON(w, http.StatusOK, event)
}

type sendNotificationRequest struct {
	notify.Notification
	Target notify.Target `json:"target"`
}

func (s *RESTServer) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Message == "" {
		http.Error(w, "title and message are required", http.StatusBadRequest)
		return
	}

	var payload notify.Payload
	if len(req.Target.Users) == 0 && len(req.Target.Roles) == 0 {
		payload = s.dispatcher.Broadcast(r.Context(), req.Notification)
	} else {
		payload = s.dispatcher.Send(r.Context(), req.Notification, req.Target)
	}

	s.writeJSON(w, http.StatusAccepted, payload)
}

func (s *RESTServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	notifications, err := s.notificationStore.ListForUser(r.Context(), userID, store.ListOptions{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
	})
	if err != nil {
		s.logger.Error("failed to list notifications",
			zap.String("userId", userID),
			zap.Error(err))
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, notifications)
}

func (s *RESTServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	notificationID := mux.Vars(r)["id"]

	err := s.notificationStore.MarkRead(r.Context(), userID, notificationID)
	if err != nil {
		var coded ierr.Error
		if errors.As(err, &coded) && coded.Code == ierr.ErrorCodeNotFound {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}

		s.logger.Error("failed to mark notification read",
			zap.String("userId", userID),
			zap.String("notificationId", notificationID),
			zap.Error(err))
		http.Error(w, "failed to mark notification read", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *RESTServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	marked, err := s.notificationStore.MarkAllRead(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to mark notifications read",
			zap.String("userId", userID),
			zap.Error(err))
		http.Error(w, "failed to mark notifications read", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int64{"markedRead": marked})
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
