package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/auth"
	"github.com/BradenHooton/dealerdesk/internal/background"
	"github.com/BradenHooton/dealerdesk/internal/config"
	"github.com/BradenHooton/dealerdesk/internal/database"
	"github.com/BradenHooton/dealerdesk/internal/handlers"
	"github.com/BradenHooton/dealerdesk/internal/metrics"
	middlewareCustom "github.com/BradenHooton/dealerdesk/internal/middleware"
	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/BradenHooton/dealerdesk/internal/repositories"
	"github.com/BradenHooton/dealerdesk/internal/routes"
	"github.com/BradenHooton/dealerdesk/internal/services"
	"github.com/BradenHooton/dealerdesk/internal/session"
	"github.com/BradenHooton/dealerdesk/pkg/clock"
	pkghttp "github.com/BradenHooton/dealerdesk/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.NewConnection(dbCtx, &cfg.Database, logger)
	dbCancel()
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Session backend
	var (
		sessionStore session.Store
		sweeper      background.SessionSweeper
	)
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := session.NewRedisClient(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		sessionStore = session.NewRedisStore(redisClient, cfg.Session.TTL)
		logger.Info("sessions stored in redis")
	} else {
		memoryStore := session.NewMemoryStore(cfg.Session.TTL)
		sessionStore = memoryStore
		sweeper = memoryStore
		logger.Warn("REDIS_URL not set, sessions kept in process memory")
	}

	sessionManager := session.NewManager(sessionStore, session.CookieConfig{
		Name:   cfg.Session.CookieName,
		TTL:    cfg.Session.TTL,
		Secure: cfg.Session.Secure,
	})

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	otpRepo := repositories.NewOTPCodeRepository(db)
	activityRepo := repositories.NewActivityLogRepository(db)

	// Mail delivery
	var mailer services.Mailer
	switch cfg.Email.Driver {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesMailer, err := services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress,
			cfg.Email.MaxRetries, cfg.Email.RetryBaseDelay, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		mailer = sesMailer
	default:
		mailer = services.NewLogMailer(cfg.Server.Env, logger)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mfaMetrics := metrics.New(registry)

	// Initialize services
	clk := clock.New()
	activityService := services.NewActivityService(activityRepo, logger)
	otpService := services.NewOTPService(
		otpRepo,
		auth.NewCodeGenerator(),
		auth.NewCodeHasher(cfg.MFA.CodePepper),
		mailer,
		activityService,
		clk,
		mfaMetrics,
		services.OTPConfig{
			LoginTTL:  cfg.MFA.LoginCodeTTL,
			ActionTTL: cfg.MFA.ActionCodeTTL,
		},
		logger,
	)
	policyEngine := services.NewPolicyEngine(services.PolicyConfig{
		LoginEnabled: cfg.MFA.LoginEnabled,
		LoginRoles:   cfg.MFA.LoginRoles,
	}, logger)
	trustStore := session.NewTrustStore(session.TrustWindows{
		Login:  cfg.MFA.LoginTrustWindow,
		Action: cfg.MFA.ActionTrustWindow,
	}, clk, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	gate := auth.NewMFAGate(policyEngine, otpService, trustStore, auth.GateConfig{
		LoginURL:    cfg.Auth.LoginURL,
		VerifyURL:   routes.Path(routes.NameMFAVerify),
		ExemptPaths: routes.MFAFlowPaths(),
		IPConfig:    ipConfig,
	}, mfaMetrics, logger)

	// Initialize handlers
	mfaHandler := handlers.NewMFAHandler(
		otpService,
		trustStore,
		policyEngine,
		activityService,
		sessionManager,
		auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay:   cfg.MFA.VerifyBaseDelay,
			RandomDelay: cfg.MFA.VerifyJitter,
		}),
		handlers.MFAHandlerConfig{
			VerifyURL:       routes.Path(routes.NameMFAVerify),
			SendCodeURL:     routes.Path(routes.NameMFASendCode),
			LoginURL:        cfg.Auth.LoginURL,
			TokenCookieName: cfg.Auth.TokenCookieName,
			SecureCookies:   cfg.Session.Secure,
			IPConfig:        ipConfig,
		},
		logger,
	)
	accountHandler := handlers.NewAccountHandler(userRepo, activityRepo, activityService, ipConfig, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Idle in-memory sessions need sweeping; Redis expires its own keys
	var cleanupManager *background.CleanupManager
	if sweeper != nil {
		cleanupManager = background.NewCleanupManager(sweeper, logger, 15*time.Minute)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.CSRFProtection(logger))
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		Sessions:     sessionManager.Middleware,
		Authenticate: auth.Authenticate(tokenManager, userRepo, cfg.Auth.TokenCookieName, logger),
		Gate:         gate,
		MFA:          mfaHandler,
		Account:      accountHandler,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Health:       healthHandler(db),
		SendCodeRate: middlewareCustom.DefaultSendCodeRateLimit(),
		VerifyRate:   middlewareCustom.DefaultVerifyRateLimit(),
		MFAIPRate:    middlewareCustom.DefaultMFAIPRateLimit(),
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	if cleanupManager != nil {
		go cleanupManager.Start(cleanupCtx)
	}

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
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// healthHandler reports database reachability
func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL is set.
// Credentials are managed by the identity provider, not here.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		logger.Info("no ADMIN_EMAIL set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	admin := &models.User{
		Email:  adminEmail,
		Name:   "Admin",
		Role:   "admin",
		Status: "active",
	}
	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
