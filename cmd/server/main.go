package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/syncflow/server/internal/config"
	"github.com/syncflow/server/internal/handlers"
	custommw "github.com/syncflow/server/internal/middleware"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
	"github.com/syncflow/server/internal/services"
)

// @title SyncFlow Server API
// @version 1.0
// @description Sync, pairing and key distribution server for SyncFlow clients.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.GetLogger().WithField("component", "main")

	// Telemetry
	ctx := context.Background()
	telCfg := observability.NewConfig("syncflow-server", "1.0.0")
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	telemetry, err := observability.Initialize(ctx, telCfg)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// Database
	var db *sql.DB
	if cfg.UsePostgres() {
		logger.Info("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
	} else {
		logger.Info("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Repositories
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	pairingRepo := repository.NewPairingTokenRepository(db)
	revokedRepo := repository.NewRevokedTokenRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	contactRepo := repository.NewContactRepository(db)
	callRepo := repository.NewCallRepository(db)
	cursorRepo := repository.NewSyncCursorRepository(db)
	deviceKeyRepo := repository.NewDeviceKeyRepository(db)
	groupKeyRepo := repository.NewSyncGroupKeyRepository(db)
	keySyncRepo := repository.NewKeySyncRepository(db)
	backfillRepo := repository.NewBackfillJobRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	// Counter store: Redis when configured, in-process otherwise.
	var counterStore repository.CounterStore
	if cfg.UseRedis() {
		redisClient, err := repository.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Using Redis counter store")
		counterStore = repository.NewRedisCounterStore(redisClient)
	} else {
		logger.Info("Using in-process counter store")
		counterStore = repository.NewMemoryCounterStore()
	}

	// Metrics
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to create HTTP metrics: %v", err)
	}
	businessMetrics, err := observability.NewBusinessMetrics()
	if err != nil {
		log.Fatalf("Failed to create business metrics: %v", err)
	}

	// Services
	hub := services.NewHub()
	go hub.Run()

	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, revokedRepo)
	phoneService := services.NewPhoneService()
	quotaService := services.NewQuotaService(usageRepo, userRepo, services.QuotaLimits{
		MonthlyUploadBytes: cfg.Quota.MonthlyUploadBytes,
		StorageBytes:       cfg.Quota.StorageBytes,
		TrialDuration:      cfg.Quota.TrialDuration,
	})
	rateLimiter := services.NewRateLimiter(counterStore, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	authService := services.NewAuthService(userRepo, deviceRepo, tokenService, businessMetrics)
	pairingService := services.NewPairingService(userRepo, deviceRepo, pairingRepo, tokenService, hub,
		businessMetrics, cfg.Pairing.TokenTTL, cfg.PublicEndpoint)
	deviceService := services.NewDeviceService(deviceRepo, deviceKeyRepo, cursorRepo, hub)
	syncService := services.NewSyncService(messageRepo, contactRepo, callRepo, cursorRepo,
		deviceKeyRepo, groupKeyRepo, phoneService, quotaService, hub, businessMetrics,
		services.SyncOptions{
			InitialWindow: cfg.Sync.InitialWindow,
			MaxFetchLimit: cfg.Sync.MaxFetchLimit,
			MaxBatchSize:  cfg.Sync.MaxBatchSize,
		})
	keyService := services.NewKeyExchangeService(deviceRepo, deviceKeyRepo, groupKeyRepo,
		keySyncRepo, backfillRepo, messageRepo, hub, services.DefaultKeyExchangeOptions())
	presenceService := services.NewPresenceService(hub, services.PresenceOptions{
		TypingDebounce:     cfg.Presence.TypingDebounce,
		TypingTTL:          cfg.Presence.TypingTTL,
		ContinuityInterval: cfg.Presence.ContinuityInterval,
	})
	defer presenceService.Close()

	janitor := services.NewJanitorService(pairingRepo, userRepo, keySyncRepo, revokedRepo, backfillRepo, time.Minute)
	janitor.Start()
	defer janitor.Stop()

	maintenance := custommw.NewMaintenanceState()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, pairingService)
	messageHandler := handlers.NewMessageHandler(syncService)
	contactHandler := handlers.NewContactHandler(syncService)
	callHandler := handlers.NewCallHandler(syncService)
	deviceHandler := handlers.NewDeviceHandler(deviceService)
	keyHandler := handlers.NewKeyHandler(keyService)
	presenceHandler := handlers.NewPresenceHandler(presenceService)
	usageHandler := handlers.NewUsageHandler(quotaService)
	adminHandler := handlers.NewAdminHandler(maintenance, hub, quotaService, janitor)
	healthHandler := handlers.NewHealthHandler(db, counterStore)
	wsHandler := handlers.NewWebSocketHandler(hub, tokenService, businessMetrics)

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(observability.TracingMiddleware("syncflow-server"))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(custommw.MaintenanceGate(maintenance))

	r.Get("/health", healthHandler.Check)
	r.Get("/api/health", healthHandler.Check)

	r.Get("/ws", wsHandler.Serve)

	// Unauthenticated: account creation and the pairing flow's waiting side.
	r.Group(func(r chi.Router) {
		r.Use(custommw.RateLimit(rateLimiter, "auth"))
		r.Post("/api/auth/anonymous", authHandler.Anonymous)
		r.Post("/api/auth/refresh", authHandler.Refresh)
		r.Post("/api/auth/pair/initiate", authHandler.InitiatePairing)
		r.Get("/api/auth/pair/status/{token}", authHandler.PairingStatus)
		r.Post("/api/auth/pair/redeem", authHandler.RedeemPairing)
	})

	// Authenticated API
	r.Group(func(r chi.Router) {
		r.Use(custommw.BearerAuth(tokenService, deviceService))
		r.Use(custommw.RateLimit(rateLimiter, "api"))

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Post("/api/auth/pair/complete", authHandler.CompletePairing)

		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/", messageHandler.Submit)
			r.Get("/", messageHandler.List)
			r.Get("/sync", messageHandler.Sync)
			r.Get("/sync/cursor", messageHandler.GetCursor)
			r.Put("/sync/cursor", messageHandler.ConfirmCursor)
			r.Post("/send", messageHandler.Send)
			r.Patch("/{id}", messageHandler.Update)
			r.Delete("/{id}", messageHandler.Delete)
		})

		r.Route("/api/contacts", func(r chi.Router) {
			r.Post("/", contactHandler.Submit)
			r.Get("/", contactHandler.List)
			r.Get("/sync", contactHandler.Sync)
			r.Get("/sync/cursor", contactHandler.GetCursor)
			r.Put("/sync/cursor", contactHandler.ConfirmCursor)
			r.Delete("/{id}", contactHandler.Delete)
		})

		r.Route("/api/calls", func(r chi.Router) {
			r.Post("/", callHandler.Submit)
			r.Get("/", callHandler.List)
			r.Get("/sync", callHandler.Sync)
			r.Get("/sync/cursor", callHandler.GetCursor)
			r.Put("/sync/cursor", callHandler.ConfirmCursor)
			r.Post("/request", callHandler.Request)
		})

		r.Route("/api/devices", func(r chi.Router) {
			r.Get("/", deviceHandler.List)
			r.Get("/{id}", deviceHandler.Get)
			r.Put("/{id}", deviceHandler.Update)
			r.Patch("/{id}", deviceHandler.Update)
			r.Delete("/{id}", deviceHandler.Delete)
		})

		r.Route("/api/keys", func(r chi.Router) {
			r.Post("/", keyHandler.Publish)
			r.Get("/", keyHandler.List)
			r.Post("/group", keyHandler.CreateSyncGroup)
			r.Get("/group", keyHandler.GetSyncGroup)
			r.Post("/sync/request", keyHandler.RequestSync)
			r.Post("/sync/respond", keyHandler.RespondSync)
			r.Get("/sync/wait", keyHandler.WaitSync)
			r.Post("/backfill", keyHandler.RequestBackfill)
			r.Get("/backfill/{jobId}", keyHandler.BackfillStatus)
			r.Post("/backfill/{jobId}/envelopes", keyHandler.SubmitBackfillEnvelopes)
			r.Get("/{deviceId}", keyHandler.Get)
		})

		r.Route("/api/presence", func(r chi.Router) {
			r.Post("/typing", presenceHandler.Typing)
			r.Post("/continuity", presenceHandler.UpdateContinuity)
			r.Get("/continuity", presenceHandler.GetContinuity)
		})

		r.Get("/api/usage", usageHandler.Get)
		r.Post("/api/usage/check", usageHandler.Check)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(custommw.RequireAdmin())
			r.Post("/maintenance", adminHandler.SetMaintenance)
			r.Post("/usage/{userId}/reset", adminHandler.ResetUsage)
			r.Get("/stats", adminHandler.Stats)
			r.Get("/janitor", adminHandler.JanitorStatus)
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // long-polling key sync waits up to 30s
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("SyncFlow server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Telemetry shutdown error: %v", err)
	}

	logger.Info("Server stopped")
}
