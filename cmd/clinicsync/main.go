package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/clinicore/clinicsync/internal/audit"
	"github.com/clinicore/clinicsync/internal/auth"
	"github.com/clinicore/clinicsync/internal/notify"
	"github.com/clinicore/clinicsync/internal/presence"
	"github.com/clinicore/clinicsync/internal/realtime"
	"github.com/clinicore/clinicsync/internal/server"
	"github.com/clinicore/clinicsync/internal/store/mongodb"
	"github.com/clinicore/clinicsync/internal/syncer"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// App owns one instance of every component, wired explicitly at process
// start. Nothing in this process reaches for a global service handle.
type App struct {
	logger   *zap.Logger
	settings Settings

	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
	tracker         *presence.Tracker
	dispatcher      *notify.Dispatcher
	auditAppender   *audit.Appender

	presenceEngine     *mongodb.PresenceEngine
	notificationEngine *mongodb.NotificationEngine
	eventLogEngine     *mongodb.EventLogEngine
}

func NewApp(logger *zap.Logger, settings Settings, mongoClient *mongo.Client) *App {
	storeTimeout := time.Duration(settings.StoreTimeoutSeconds) * time.Second

	presenceEngine := mongodb.NewPresenceEngine(mongoClient, settings.MongoDatabase)
	notificationEngine := mongodb.NewNotificationEngine(mongoClient, settings.MongoDatabase)
	eventLogEngine := mongodb.NewEventLogEngine(mongoClient, settings.MongoDatabase)

	verifier := auth.NewVerifier(settings.JWTSecret, settings.APIKeys)
	registry := realtime.NewRegistry(logger)
	rooms := realtime.NewRoomManager(logger)

	auditAppender := audit.NewAppender(logger, eventLogEngine, settings.AuditQueueSize, storeTimeout)

	tracker := presence.NewTracker(
		logger,
		presenceEngine,
		rooms,
		auditAppender,
		storeTimeout,
		time.Duration(settings.PresenceStaleMinutes)*time.Minute,
		time.Duration(settings.PresencePurgeDays)*24*time.Hour,
	)

	dispatcher := notify.NewDispatcher(
		logger,
		notificationEngine,
		registry,
		rooms,
		auditAppender,
		storeTimeout,
	)

	broadcaster := syncer.NewBroadcaster(logger, rooms, auditAppender)

	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: true,
	}

	router := server.NewRouter(logger, rooms, tracker)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		verifier,
		registry,
		rooms,
		tracker,
		router,
	)
	restServer := server.NewRESTServer(
		logger,
		verifier,
		dispatcher,
		broadcaster,
		registry,
		presenceEngine,
		notificationEngine,
		eventLogEngine,
	)

	return &App{
		logger:             logger,
		settings:           settings,
		websocketServer:    websocketServer,
		restServer:         restServer,
		tracker:            tracker,
		dispatcher:         dispatcher,
		auditAppender:      auditAppender,
		presenceEngine:     presenceEngine,
		notificationEngine: notificationEngine,
		eventLogEngine:     eventLogEngine,
	}
}

func (a *App) setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.presenceEngine.Setup(setupCtx); err != nil {
		return fmt.Errorf("presence store setup: %w", err)
	}
	if err := a.notificationEngine.Setup(setupCtx); err != nil {
		return fmt.Errorf("notification store setup: %w", err)
	}
	if err := a.eventLogEngine.Setup(setupCtx); err != nil {
		return fmt.Errorf("event log setup: %w", err)
	}

	return nil
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	sweepInterval := time.Duration(a.settings.SweepIntervalMinutes) * time.Minute
	go a.tracker.RunSweeper(notifyCtx, sweepInterval)
	go a.dispatcher.RunRetention(notifyCtx, sweepInterval,
		time.Duration(a.settings.NotificationRetentionDays)*24*time.Hour)

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.auditAppender.Close()

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("failed to parse settings from environment", zap.Error(err))
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogLevel)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(settings.MongoURI))
	if err != nil {
		logger.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	app := NewApp(logger, settings, mongoClient)

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}

	app.run(ctx)
}
