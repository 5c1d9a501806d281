package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/duochat/duochat/internal/auth"
	"github.com/duochat/duochat/internal/data"
	"github.com/duochat/duochat/internal/db"
	"github.com/duochat/duochat/internal/middleware"
	"github.com/duochat/duochat/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	dev := os.Getenv("APP_ENV") == "development"

	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	// Read configuration from environment
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI must be set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	rateRPM := envInt(os.Getenv("RATE_LIMIT_RPM"), 10)
	idleTimeout := time.Duration(envInt(os.Getenv("IDLE_TIMEOUT_SECONDS"), 60)) * time.Second

	ctx := context.Background()

	dbClient, err := db.New(ctx, mongoURI)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	chatsStore := data.NewChatsStore(dbClient.ChatsCollection())
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())
	stores := data.NewStores(usersStore, chatsStore, msgsStore)

	// Token valid for 24 hours.
	jwtMgr := auth.NewJWTManager(jwtSecret, 24*time.Hour)

	// Small burst so a couple of quick retries on the credential endpoints
	// still get through.
	limiter := middleware.NewLimiterStore(rateRPM, 3, time.Minute)
	defer limiter.Stop()

	// Realtime plumbing: registry + rooms shared by the coordinator, the
	// presence broadcaster and the websocket gateway.
	registry := realtime.NewRegistry()
	rooms := realtime.NewRooms()
	coord := realtime.NewCoordinator(stores, registry, rooms, log)
	presence := realtime.NewBroadcaster(stores, registry, rooms, log)
	gateway := realtime.NewGateway(jwtMgr, stores, registry, rooms, coord, presence, log)

	if !dev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	srv := newServer(usersStore, chatsStore, msgsStore, jwtMgr, coord, log)
	srv.registerRoutes(router, limiter, gateway.HandleWS)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		log.Infof("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	// Shutdown does not cover hijacked connections; close the websocket
	// sessions explicitly.
	gateway.Shutdown()
}

func envInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
