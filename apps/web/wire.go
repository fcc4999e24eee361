package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arcims/arcims-web/contracts"
	activationhandler "github.com/arcims/arcims-web/domains/activation/be/handler"
	activationrepo "github.com/arcims/arcims-web/domains/activation/be/repo"
	activationservice "github.com/arcims/arcims-web/domains/activation/be/service"
	connectorshandler "github.com/arcims/arcims-web/domains/connectors/be/handler"
	connectorsrepo "github.com/arcims/arcims-web/domains/connectors/be/repo"
	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	onboardinghandler "github.com/arcims/arcims-web/domains/onboarding/be/handler"
	onboardingservice "github.com/arcims/arcims-web/domains/onboarding/be/service"
	tenantshandler "github.com/arcims/arcims-web/domains/tenants/be/handler"
	tenantsrepo "github.com/arcims/arcims-web/domains/tenants/be/repo"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
	"github.com/arcims/arcims-web/platform/go/backend"
	"github.com/arcims/arcims-web/platform/go/metrics"
	"github.com/arcims/arcims-web/platform/go/notify"
	"github.com/arcims/arcims-web/platform/go/persistence"
	"github.com/arcims/arcims-web/platform/go/webhook"
)

const devTenantID = "tenant-dev"

type readinessCheck func(ctx context.Context) error

type app struct {
	handler http.Handler
	manager *activationservice.Manager
	memory  bool
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.manager != nil {
		a.manager.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func activationPolicy(cfg config) activationservice.Policy {
	policy := activationservice.DefaultPolicy()
	policy.PollInterval = cfg.PollInterval
	policy.RedirectDelay = cfg.RedirectDelay
	policy.MaxAttempts = cfg.MaxAttempts
	policy.MaxElapsed = cfg.MaxElapsed
	policy.TransientRetries = cfg.TransientRetries
	if cfg.TransientRetries <= 0 {
		// Normalized reads zero as unset; here it means no retries.
		policy.TransientRetries = -1
	}
	policy.DashboardPath = cfg.DashboardPath
	return policy.Normalized()
}

func buildApp(ctx context.Context, cfg config, logger *zap.Logger) (*app, error) {
	a := &app{}
	collector := metrics.New()

	policy := activationPolicy(cfg)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("activation policy: %w", err)
	}

	var (
		tenantRepo tenantsservice.Repository
		provider   connectorsservice.Provider
	)
	if cfg.BackendURL == "" {
		logger.Warn("BACKEND_URL not set; using in-memory stores", zap.String("dev_user_id", cfg.DevUserID))
		tenantRepo, provider = seedMemoryStores(cfg)
		a.memory = true
	} else {
		client, err := backend.New(backend.Config{
			BaseURL:           cfg.BackendURL,
			Token:             cfg.BackendToken,
			Timeout:           cfg.BackendTimeout,
			RequestsPerSecond: cfg.BackendRPS,
			Burst:             cfg.BackendBurst,
			Logger:            logger.Named("backend"),
			Observer:          collector.BackendRequest,
		})
		if err != nil {
			return nil, fmt.Errorf("init backend client: %w", err)
		}
		tenantRepo = tenantsrepo.NewBackendRepository(client)
		provider = connectorsrepo.NewBackendProvider(client)
	}
	tenantService := tenantsservice.New(tenantRepo)
	connectorService := connectorsservice.New(provider)

	var checks []readinessCheck

	var journal activationservice.Journal = activationrepo.NewMemoryJournal()
	if cfg.DatabaseURL != "" {
		pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
			ConnString:     cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			ConnectTimeout: cfg.DatabaseConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres pool: %w", err)
		}
		a.closers = append(a.closers, func() { persistence.ClosePool(pool) })
		if err := persistence.ApplySchema(ctx, pool); err != nil {
			return nil, err
		}
		journal = activationrepo.NewPostgresJournal(pool)
		checks = append(checks, pool.Ping)
	}

	var bus notify.Bus = notify.NewLocalBus()
	if cfg.RedisURL != "" {
		client := notify.NewRedisClient(cfg.RedisURL)
		redisBus := notify.NewRedisBus(client, logger.Named("nudges"))
		runCtx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := redisBus.Run(runCtx); err != nil {
				logger.Error("nudge relay stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() { _ = client.Close() }, cancel)
		checks = append(checks, redisBus.Ping)
		bus = redisBus
	}

	poller := activationservice.NewPoller(activationservice.PollerConfig{
		Tenants:    tenantService,
		Connectors: connectorService,
		Nudges:     bus,
		Policy:     policy,
		Logger:     logger.Named("activation"),
		Metrics:    collector,
	})
	a.manager = activationservice.NewManager(activationservice.ManagerConfig{
		Poller:         poller,
		Journal:        journal,
		Tenants:        tenantService,
		Logger:         logger.Named("activation"),
		Metrics:        collector,
		RetainTerminal: cfg.RetainTerminal,
		LeaseTTL:       cfg.LeaseTTL,
	})
	onboardingService := onboardingservice.New(tenantService, connectorService, a.manager)

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	if !verifier.SignaturesRequired() {
		logger.Warn("WEBHOOK_SECRET not set; connector webhooks are accepted unsigned")
	}

	spec, err := contracts.GetOnboardingSwagger()
	if err != nil {
		return nil, err
	}

	authMiddleware, err := buildAuthMiddleware(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.handler = newRouter(routerDeps{
		logger:         logger,
		traceProject:   cfg.GCPProjectID,
		requestTimeout: cfg.RequestTimeout,
		allowedOrigins: cfg.AllowedOrigins,
		auth:           authMiddleware,
		spec:           spec,
		metrics:        collector.Handler(),
		ready:          readiness(checks),
		onboarding:     onboardinghandler.New(onboardingService, logger),
		tenants:        tenantshandler.New(tenantService, logger),
		activation:     activationhandler.New(a.manager, logger, activationhandler.WithReconnectDelay(policy.PollInterval)),
		webhook:        connectorshandler.NewWebhook(verifier, bus, collector, logger),
	})
	return a, nil
}

func readiness(checks []readinessCheck) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		var errs []error
		for _, check := range checks {
			errs = append(errs, check(ctx))
		}
		return errors.Join(errs...)
	}
}

// devProvider mimics the backend by recording connector ids on the tenant when setup runs.
type devProvider struct {
	*connectorsrepo.ScriptedProvider
	tenants *tenantsrepo.MemoryRepository
}

func (p devProvider) Setup(ctx context.Context, tenantID string) (connectorsservice.Setup, error) {
	setup, err := p.ScriptedProvider.Setup(ctx, tenantID)
	if err != nil {
		return connectorsservice.Setup{}, err
	}
	if _, err := p.tenants.AssignConnector(tenantID, setup.GroupID, setup.ConnectorID); err != nil {
		return connectorsservice.Setup{}, err
	}
	return setup, nil
}

// seedMemoryStores creates one pending tenant for the dev user whose connector connects on the third check.
func seedMemoryStores(cfg config) (*tenantsrepo.MemoryRepository, devProvider) {
	tenants := tenantsrepo.NewMemoryRepository()
	tenants.Put(tenantsservice.Tenant{
		ID:        devTenantID,
		UserID:    cfg.DevUserID,
		Email:     "dev@arcims.local",
		State:     tenantsservice.StatePending,
		CreatedAt: time.Now().UTC(),
	})

	scripted := connectorsrepo.NewScriptedProvider()
	scripted.SetSetup(devTenantID, connectorsservice.Setup{
		GroupID:        "group_dev",
		ConnectorID:    "connector_dev",
		ConnectCardURI: cfg.DevConnectCardURI,
		Service:        "fortnox",
	})
	scripted.Script(devTenantID,
		connectorsrepo.Step{State: connectorsservice.SetupIncomplete},
		connectorsrepo.Step{State: connectorsservice.SetupIncomplete},
		connectorsrepo.Step{State: connectorsservice.SetupConnected},
	)
	return tenants, devProvider{ScriptedProvider: scripted, tenants: tenants}
}
