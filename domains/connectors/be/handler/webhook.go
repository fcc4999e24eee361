package handler

import (
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	"github.com/arcims/arcims-web/platform/go/notify"
	"github.com/arcims/arcims-web/platform/go/problem"
	"github.com/arcims/arcims-web/platform/go/requesttrace"
	"github.com/arcims/arcims-web/platform/go/webhook"
)

const maxWebhookBytes = 256 << 10

// Webhook results reported to metrics.
const (
	resultAcknowledged = "acknowledged"
	resultUnauthorized = "unauthorized"
	resultInvalid      = "invalid"
	resultError        = "error"
)

// WebhookMetrics counts webhook deliveries by result.
type WebhookMetrics interface {
	WebhookReceived(result string)
}

// WebhookHandler relays connector webhook deliveries to activation pollers as nudges.
// It never changes tenant or activation state itself.
type WebhookHandler struct {
	verifier *webhook.Verifier
	bus      notify.Bus
	metrics  WebhookMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewWebhook constructs a WebhookHandler. metrics may be nil.
func NewWebhook(verifier *webhook.Verifier, bus notify.Bus, metrics WebhookMetrics, logger *zap.Logger) *WebhookHandler {
	if verifier == nil {
		panic("webhook verifier is required")
	}
	if bus == nil {
		panic("nudge bus is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &WebhookHandler{verifier: verifier, bus: bus, metrics: metrics, logger: logger, now: time.Now}
}

type webhookAck struct {
	Status      string `json:"status"`
	Event       string `json:"event"`
	ConnectorID string `json:"connector_id"`
}

// ServeHTTP implements POST /hooks/connectors.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	trace := requesttrace.Webhook(chimw.GetReqID(r.Context()))
	ctx := requesttrace.IntoContext(r.Context(), trace)
	logger := platformlogging.FromRequest(r, h.logger).With(trace.Fields()...)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		h.observe(resultInvalid)
		problem.Write(w, problem.New("Bad Request", "unreadable body", problem.TypeValidation, http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBytes {
		h.observe(resultInvalid)
		problem.Write(w, problem.New("Payload Too Large", "webhook body exceeds limit", problem.TypeValidation, http.StatusRequestEntityTooLarge))
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		h.observe(resultUnauthorized)
		logger.Warn("rejected connector webhook", zap.Error(err))
		problem.Write(w, problem.New("Unauthorized", err.Error(), problem.TypeUnauthorized, http.StatusUnauthorized))
		return
	}

	evt, err := h.verifier.Decode(body)
	if err != nil {
		h.observe(resultInvalid)
		problem.Write(w, problem.New("Bad Request", err.Error(), problem.TypeValidation, http.StatusBadRequest))
		return
	}

	connectorID := evt.Connector()
	logger = logger.With(zap.String("event", evt.Event), zap.String("connector_id", connectorID))
	nudge := notify.Nudge{ConnectorID: connectorID, Event: evt.Event, At: h.now().UTC()}
	if err := h.bus.Publish(ctx, nudge); err != nil {
		h.observe(resultError)
		logger.Error("publish connector nudge", zap.Error(err))
		problem.Write(w, problem.New("Service Unavailable", "could not relay webhook", problem.TypeUpstream, http.StatusServiceUnavailable))
		return
	}

	h.observe(resultAcknowledged)
	logger.Info("connector webhook relayed")
	problem.WriteJSON(w, http.StatusOK, webhookAck{Status: resultAcknowledged, Event: evt.Event, ConnectorID: connectorID})
}

func (h *WebhookHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.WebhookReceived(result)
	}
}
