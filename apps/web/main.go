package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	GCPProjectID    string        `env:"GOOGLE_CLOUD_PROJECT"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// BackendURL empty runs against in-memory stores seeded for DevUserID (local development only).
	BackendURL     string        `env:"BACKEND_URL"`
	BackendToken   string        `env:"BACKEND_TOKEN"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`
	BackendRPS     float64       `env:"BACKEND_RPS" envDefault:"20"`
	BackendBurst   int           `env:"BACKEND_BURST" envDefault:"10"`

	AuthProvider            string        `env:"AUTH_PROVIDER" envDefault:"clerk"` // clerk | firebase | dev
	ClerkJWTKey             string        `env:"CLERK_JWT_KEY"`
	ClerkIssuer             string        `env:"CLERK_ISSUER"`
	ClerkAuthorizedParties  []string      `env:"CLERK_AUTHORIZED_PARTIES" envSeparator:","`
	ClerkLeeway             time.Duration `env:"CLERK_LEEWAY" envDefault:"5s"`
	FirebaseProjectID       string        `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string        `env:"FIREBASE_CREDENTIALS_FILE"`

	// DatabaseURL empty keeps the activation journal in memory.
	DatabaseURL            string        `env:"DATABASE_URL"`
	DatabaseMaxConns       int32         `env:"DATABASE_MAX_CONNS" envDefault:"4"`
	DatabaseConnectTimeout time.Duration `env:"DATABASE_CONNECT_TIMEOUT" envDefault:"15s"`
	RedisURL               string        `env:"REDIS_URL"`
	WebhookSecret          string        `env:"WEBHOOK_SECRET"`

	PollInterval  time.Duration `env:"ACTIVATION_POLL_INTERVAL" envDefault:"2s"`
	RedirectDelay time.Duration `env:"ACTIVATION_REDIRECT_DELAY" envDefault:"3s"`
	MaxAttempts   int           `env:"ACTIVATION_MAX_ATTEMPTS" envDefault:"150"`
	MaxElapsed    time.Duration `env:"ACTIVATION_MAX_ELAPSED" envDefault:"10m"`
	// TransientRetries bounds consecutive retries of unavailable lookups; zero or less fails on the first.
	TransientRetries int           `env:"ACTIVATION_TRANSIENT_RETRIES" envDefault:"2"`
	RetainTerminal   time.Duration `env:"ACTIVATION_RETAIN" envDefault:"5m"`
	LeaseTTL         time.Duration `env:"ACTIVATION_LEASE_TTL" envDefault:"30s"`
	DashboardPath    string        `env:"DASHBOARD_PATH" envDefault:"/dashboard"`

	DevUserID         string `env:"DEV_USER_ID" envDefault:"user_dev"`
	DevConnectCardURI string `env:"DEV_CONNECT_CARD_URI" envDefault:"http://localhost:3000/docs"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "web",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer application.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info("starting web server", zap.String("port", cfg.Port), zap.Bool("memory_backend", application.memory))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Ending the pollers first closes open event streams so Shutdown does not wait on them.
	application.manager.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
