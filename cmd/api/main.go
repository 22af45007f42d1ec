package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/background"
	"github.com/sentinelsec/authcore/internal/config"
	"github.com/sentinelsec/authcore/internal/database"
	"github.com/sentinelsec/authcore/internal/handlers"
	middlewareCustom "github.com/sentinelsec/authcore/internal/middleware"
	"github.com/sentinelsec/authcore/internal/models"
	"github.com/sentinelsec/authcore/internal/repositories"
	"github.com/sentinelsec/authcore/internal/routes"
	"github.com/sentinelsec/authcore/internal/services"
	pkgauth "github.com/sentinelsec/authcore/pkg/auth"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
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
	accountRepo := repositories.NewAccountRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	historyRepo := repositories.NewPasswordHistoryRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Audit trail and runtime security settings
	auditService := services.NewAuditService(auditRepo, logger)
	settingsService := services.NewSettingsService(settingsRepo, logger)

	// Pending-token manager for the 2FA / forced-password-change hand-off
	pendingTokens := auth.NewPendingTokenManager(cfg.Auth.PendingTokenSecret, cfg.Auth.PendingTokenExpiry)

	// TOTP manager with AES-256-GCM secret encryption at rest
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	// Email challenge store: Redis when configured, in-process otherwise
	var challengeStore auth.ChallengeStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		challengeStore = auth.NewRedisChallengeStore(client)
		logger.Info("using redis challenge store", slog.String("addr", cfg.Redis.Addr))
	} else {
		memStore := auth.NewMemoryChallengeStore(cfg.Auth.SweepInterval)
		defer memStore.Stop()
		challengeStore = memStore
		logger.Info("using in-process challenge store")
	}

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	lockoutService := services.NewLockoutService(lockoutRepo, settingsService, auditService, logger)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, totpManager, challengeStore, emailService, auditService, logger)
	passwordPolicy := services.NewPasswordPolicyService(historyRepo, settingsService, logger)
	sessionService := services.NewSessionService(sessionRepo, settingsService, auditService, logger, cfg.Auth.PendingTokenExpiry)
	loginService := services.NewLoginService(
		accountRepo,
		lockoutService,
		twoFactorService,
		sessionService,
		passwordPolicy,
		pendingTokens,
		settingsService,
		auditService,
		timingDelay,
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, sessionService, accountRepo, auditService, ipConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, accountRepo)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	adminHandler := handlers.NewAdminHandler(lockoutService)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(sessionService, lockoutRepo, auditRepo, logger, cfg.Auth.SweepInterval)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, twoFactorHandler, sessionHandler, adminHandler, sessionService, accountRepo)

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

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, accountRepo *repositories.AccountRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	// Check if admin already exists
	_, err := accountRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	// Hash password
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	// Create admin account
	now := time.Now()
	admin := &models.Account{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		Active:            true,
		PasswordChangedAt: &now,
	}

	if _, err := accountRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created successfully")
	return nil
}
