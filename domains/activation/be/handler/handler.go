package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/arcims/arcims-web/domains/activation/be/service"
	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	"github.com/arcims/arcims-web/platform/go/problem"
)

const defaultHeartbeat = 15 * time.Second

// Handler exposes the activation session manager over HTTP.
type Handler struct {
	manager   *service.Manager
	logger    *zap.Logger
	heartbeat time.Duration
	retry     time.Duration
}

// Option tweaks a Handler.
type Option func(*Handler)

// WithHeartbeat sets how often idle event streams send a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithReconnectDelay sets the retry hint sent to EventSource clients.
func WithReconnectDelay(d time.Duration) Option {
	return func(h *Handler) { h.retry = d }
}

// New constructs a Handler instance.
func New(manager *service.Manager, logger *zap.Logger, opts ...Option) *Handler {
	if manager == nil {
		panic("activation manager is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	h := &Handler{manager: manager, logger: logger, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the request/response endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/activation", h.Get)
	r.Get("/activation/outcome", h.Outcome)
}

// StreamRoutes registers the long-lived endpoints; mount them outside any request timeout.
func (h *Handler) StreamRoutes(r chi.Router) {
	r.Get("/activation/events", h.Events)
}

// Get implements GET /activation.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	session := h.manager.Touch(userID)
	problem.WriteJSON(w, http.StatusOK, toSnapshot(session.Snapshot()))
}

// Outcome implements GET /activation/outcome.
func (h *Handler) Outcome(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	out, err := h.manager.Latest(r.Context(), userID)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toOutcome(out))
}

// Events implements GET /activation/events as a Server-Sent Events stream.
// The stream starts with the current snapshot and ends after the terminal one.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	logger := platformlogging.FromRequest(r, h.logger).With(zap.String("user_id", userID))

	session, release := h.manager.Acquire(userID)
	defer release()
	snapshots, unsubscribe := session.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if h.retry > 0 {
		_, _ = fmt.Fprintf(w, "retry: %d\n\n", h.retry.Milliseconds())
	}
	if err := rc.Flush(); err != nil {
		logger.Warn("event stream not flushable", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	seq := 0
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case snap, open := <-snapshots:
			if !open {
				return
			}
			seq++
			if err := writeEvent(w, seq, snap); err != nil {
				logger.Debug("write event", zap.Error(err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, seq int, snap service.Snapshot) error {
	event := "snapshot"
	if snap.Redirect != "" {
		event = "redirect"
	}
	data, err := json.Marshal(toSnapshot(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event, data)
	return err
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil || creds.Id == "" {
		problem.Write(w, problem.New("Unauthorized", "user credentials are required", problem.TypeUnauthorized, http.StatusUnauthorized))
		return "", false
	}
	return creds.Id, true
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNoOutcome):
		problem.Write(w, problem.New("Not Found", "no activation outcome has been recorded yet", problem.TypeNotFound, http.StatusNotFound))
	default:
		platformlogging.FromRequest(r, h.logger).Error("activation request failed", zap.Error(err))
		problem.Write(w, problem.New("Internal Server Error", "unexpected error", problem.TypeInternal, http.StatusInternalServerError))
	}
}
