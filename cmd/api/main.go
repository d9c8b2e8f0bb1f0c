package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/background"
	"github.com/bastionauth/bastion/internal/config"
	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/handlers"
	middlewareCustom "github.com/bastionauth/bastion/internal/middleware"
	"github.com/bastionauth/bastion/internal/repositories"
	"github.com/bastionauth/bastion/internal/routes"
	"github.com/bastionauth/bastion/internal/services"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	counterRepo := repositories.NewAttemptCounterRepository(db)
	lockdownRepo := repositories.NewLockdownRepository(db)
	twofactorRepo := repositories.NewTwoFactorRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Crypto managers
	totpManager, err := auth.NewTOTPManager(cfg.Security.TOTPEncryptionKey, cfg.Security.TOTPIssuer, cfg.Security.TOTPToleranceSteps)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	markerManager := auth.NewSessionMarkerManager(cfg.Security.SessionMarkerSecret, cfg.Security.SessionMarkerTTL)

	// Notifier and SMS transport
	var notifier services.Notifier
	if cfg.Notify.Enabled {
		sesNotifier, err := services.NewSESNotifier(cfg.Notify.AWSRegion, cfg.Notify.FromAddress, cfg.Notify.AdminAddress, logger)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = &services.LogNotifier{Logger: logger}
	}
	smsSender := &services.LogSMSSender{Logger: logger}

	// Initialize services
	auditService := services.NewAuditService(auditRepo, logger)
	eventService := services.NewSecurityEventService(auditService, notifier, logger)
	rateLimitService := services.NewRateLimitService(counterRepo, cfg.Security, logger)
	lockdownService := services.NewLockdownService(lockdownRepo, counterRepo, eventService, cfg.Security, logger)
	deviceService := services.NewDeviceService(deviceRepo, eventService, logger)
	twoFactorService := services.NewTwoFactorService(
		twofactorRepo,
		userRepo,
		totpManager,
		markerManager,
		rateLimitService,
		lockdownService,
		deviceService,
		smsSender,
		eventService,
		auditService,
		cfg.Security,
		logger,
	)

	eventService.Start()

	// Cleanup manager
	cleanupManager := background.NewCleanupManager(counterRepo, lockdownRepo, twofactorRepo, deviceRepo, auditRepo, cfg.Security, logger)

	// Initialize handlers
	ipCfg := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, ipCfg, logger)
	deviceHandler := handlers.NewDeviceHandler(deviceService, ipCfg, logger)
	adminHandler := handlers.NewAdminHandler(lockdownService, twoFactorService, ipCfg, logger)
	auditHandler := handlers.NewAuditHandler(auditService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, twoFactorHandler, deviceHandler, adminHandler, auditHandler, userRepo)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		stats := db.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"up","pool":{"total":%d,"idle":%d,"acquired":%d}}`,
			stats.TotalConns(), stats.IdleConns(), stats.AcquiredConns())
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()
	eventService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
