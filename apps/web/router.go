package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	activationhandler "github.com/arcims/arcims-web/domains/activation/be/handler"
	onboardinghandler "github.com/arcims/arcims-web/domains/onboarding/be/handler"
	tenantshandler "github.com/arcims/arcims-web/domains/tenants/be/handler"
	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	platformmiddleware "github.com/arcims/arcims-web/platform/go/middleware"
	"github.com/arcims/arcims-web/platform/go/problem"
)

type routerDeps struct {
	logger         *zap.Logger
	traceProject   string
	requestTimeout time.Duration
	allowedOrigins []string
	auth           func(http.Handler) http.Handler
	spec           *openapi3.T
	metrics        http.Handler
	ready          func(ctx context.Context) error

	onboarding *onboardinghandler.Handler
	tenants    *tenantshandler.Handler
	activation *activationhandler.Handler
	webhook    http.Handler
}

func newRouter(d routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.CORS(d.allowedOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(d.logger, platformlogging.WithTraceProject(d.traceProject)))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.ready != nil {
			if err := d.ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, d.logger).Warn("not ready", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Method(http.MethodGet, "/metrics", d.metrics)

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, map[string]*openapi3.T{"onboarding": d.spec}, d.logger)

	rootRouter.With(chimw.Timeout(d.requestTimeout)).Method(http.MethodPost, "/hooks/connectors", d.webhook)

	apiRouter := chi.NewRouter()
	apiRouter.Use(d.auth)
	apiRouter.Use(platformauth.RequireUser)
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(newSpecValidator(d.spec))

	apiRouter.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(d.requestTimeout))
		d.onboarding.Routes(r)
		d.tenants.Routes(r)
		d.activation.Routes(r)
	})
	// Event streams outlive any request timeout.
	apiRouter.Group(d.activation.StreamRoutes)

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}

// newSpecValidator builds oapi-codegen validator middleware for the contract, rendering failures as problem details.
func newSpecValidator(spec *openapi3.T) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		SilenceServersWarning: true,
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			title := http.StatusText(statusCode)
			problemType := problem.TypeValidation
			switch statusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				problemType = problem.TypeUnauthorized
			case http.StatusNotFound:
				problemType = problem.TypeNotFound
			}
			problem.Write(w, problem.New(title, message, problemType, statusCode))
		},
	})
}
