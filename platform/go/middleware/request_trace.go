package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	"github.com/arcims/arcims-web/platform/go/problem"
	"github.com/arcims/arcims-web/platform/go/requesttrace"
)

// RequestTrace stores a requesttrace.Trace on the context so backend calls carry the caller's
// request id and user. Mount it after the JWT middleware.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		trace := requesttrace.Anonymous(requestID)

		if creds, ok := platformauth.UserFromContext(r.Context()); ok && creds != nil {
			t, err := requesttrace.FromCredentials(creds, requestID)
			if err != nil {
				platformlogging.FromRequest(r, zap.NewNop()).Warn("trace credentials", zap.Error(err))
				problem.Write(w, problem.New("Unauthorized", "user credentials are incomplete", problem.TypeUnauthorized, http.StatusUnauthorized))
				return
			}
			trace = t
		}

		ctx := requesttrace.IntoContext(r.Context(), trace)
		if logger, ok := platformlogging.FromContext(ctx); ok {
			ctx = platformlogging.WithLogger(ctx, logger.With(trace.Fields()...))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
