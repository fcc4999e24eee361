package logging

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceKey is the field Cloud Logging uses to group entries under a trace.
const TraceKey = "logging.googleapis.com/trace"

type ctxKey struct{}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) (*zap.Logger, bool) {
	logger, ok := ctx.Value(ctxKey{}).(*zap.Logger)
	return logger, ok && logger != nil
}

// FromRequest returns the request-scoped logger, or fallback.
func FromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := FromContext(r.Context()); ok {
		return logger
	}
	return fallback
}

// With returns a context whose logger carries the extra fields; without a logger ctx is returned unchanged.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	logger, ok := FromContext(ctx)
	if !ok || len(fields) == 0 {
		return ctx
	}
	return WithLogger(ctx, logger.With(fields...))
}

func OrNop(ctx context.Context) *zap.Logger {
	if logger, ok := FromContext(ctx); ok {
		return logger
	}
	return zap.NewNop()
}

// RequestOption tunes RequestLogger.
type RequestOption func(*requestLogger)

// WithTraceProject links entries to the Cloud Trace of the X-Cloud-Trace-Context header.
func WithTraceProject(projectID string) RequestOption {
	return func(l *requestLogger) { l.traceProject = projectID }
}

type requestLogger struct {
	base         *zap.Logger
	traceProject string
}

// RequestLogger stores a request-scoped logger on the context and logs one line per completed request.
// 5xx responses log at error level and 4xx at warn.
func RequestLogger(base *zap.Logger, opts ...RequestOption) func(http.Handler) http.Handler {
	l := &requestLogger{base: base}
	for _, opt := range opts {
		opt(l)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := l.base.With(l.fields(r)...)
			ctx := WithLogger(r.Context(), logger)

			// Event streams log their own lifecycle and must keep the raw writer for flushing.
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			logger.Log(level, "request completed",
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func (l *requestLogger) fields(r *http.Request) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if id := middleware.GetReqID(r.Context()); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	fields = append(fields,
		zap.String("http_method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	if l.traceProject != "" {
		// X-Cloud-Trace-Context: TRACE_ID/SPAN_ID;o=1
		if header := r.Header.Get("X-Cloud-Trace-Context"); header != "" {
			traceID, _, _ := strings.Cut(header, "/")
			fields = append(fields, zap.String(TraceKey, "projects/"+l.traceProject+"/traces/"+traceID))
		}
	}
	return fields
}
