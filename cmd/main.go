package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zapdesk/zapdesk-backend/internal/clients/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/db"
	"github.com/zapdesk/zapdesk-backend/internal/events"
	"github.com/zapdesk/zapdesk-backend/internal/handlers"
	"github.com/zapdesk/zapdesk-backend/internal/observability"
	"github.com/zapdesk/zapdesk-backend/internal/platform/envutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
	"github.com/zapdesk/zapdesk-backend/internal/realtime/bus"
	"github.com/zapdesk/zapdesk-backend/internal/repos"
	"github.com/zapdesk/zapdesk-backend/internal/server"
	"github.com/zapdesk/zapdesk-backend/internal/services"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "zapdesk-backend",
		Environment: envutil.String("ENVIRONMENT", "development"),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	gormDB := postgresService.DB()

	// Repos
	chatRepo := repos.NewChatRepo(gormDB, log)
	messageRepo := repos.NewMessageRepo(gormDB, log)
	clientRepo := repos.NewClientRepo(gormDB, log)

	// Realtime
	hub := realtime.NewHub(log)
	instanceID := uuid.NewString()
	var sseBus bus.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		sseBus, err = bus.NewRedisBus(log, instanceID)
		if err != nil {
			log.Fatal("Redis SSE bus init failed", "error", err)
		}
		if err := sseBus.StartForwarder(ctx, hub.Broadcast); err != nil {
			log.Fatal("Redis SSE forwarder failed to start", "error", err)
		}
	}
	emitter := &services.FanoutEmitter{Hub: hub, Bus: sseBus, Log: log, Instance: instanceID}

	// Domain events
	publisher, err := events.NewFromEnv(log)
	if err != nil {
		log.Fatal("Event publisher init failed", "error", err)
	}
	defer publisher.Close()

	// Provider client
	waClient, err := whatsapp.NewFromEnv(log)
	if err != nil {
		log.Fatal("WhatsApp client init failed", "error", err)
	}

	// Services
	notifier := services.NewInboxNotifier(emitter)
	resolver := services.NewResolverService(gormDB, log, chatRepo, clientRepo)
	chatState := services.NewChatStateService(gormDB, log, chatRepo, messageRepo, resolver, notifier, publisher)
	inbound := services.NewInboundService(log, chatState)
	dispatcher := services.NewDispatcherService(log, chatState, waClient)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(log, inbound)
	chatHandler := handlers.NewChatHandler(log, chatState, dispatcher)
	sseHandler := handlers.NewSSEHandler(log, hub)
	connectionHandler := handlers.NewConnectionHandler(log, waClient)

	router := server.NewRouter(server.RouterConfig{
		WebhookHandler:    webhookHandler,
		ChatHandler:       chatHandler,
		SSEHandler:        sseHandler,
		ConnectionHandler: connectionHandler,
	})

	port := envutil.String("PORT", "8080")
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Stopping the server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if otelShutdown != nil {
			_ = otelShutdown(shutdownCtx)
		}
		if sseBus != nil {
			_ = sseBus.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server failed", "error", err)
	}
	log.Info("Server stopped")
}
