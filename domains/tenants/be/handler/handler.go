package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/arcims/arcims-web/domains/tenants/be/service"
	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	"github.com/arcims/arcims-web/platform/go/problem"
)

// Handler wires tenants service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the tenant endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenant", h.Get)
}

type tenantDTO struct {
	TenantID         string     `json:"tenant_id"`
	Email            string     `json:"email,omitempty"`
	CompanyName      *string    `json:"company_name,omitempty"`
	State            string     `json:"state"`
	ConnectorGroupID *string    `json:"connector_group_id,omitempty"`
	ConnectorID      *string    `json:"connector_id,omitempty"`
	DataReady        bool       `json:"data_ready"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// Get implements GET /tenant.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil || creds.Id == "" {
		problem.Write(w, problem.New("Unauthorized", "user credentials are required", problem.TypeUnauthorized, http.StatusUnauthorized))
		return
	}

	t, err := h.svc.GetByUser(r.Context(), creds.Id)
	switch {
	case err == nil:
		problem.WriteJSON(w, http.StatusOK, toAPITenant(t))
	case errors.Is(err, service.ErrNotFound):
		problem.Write(w, problem.New("Tenant not found", "no tenant is registered for this account", problem.TypeNotFound, http.StatusNotFound))
	case errors.Is(err, service.ErrUnavailable):
		platformlogging.FromRequest(r, h.logger).Warn("tenant store unavailable", zap.Error(err))
		problem.Write(w, problem.New("Bad Gateway", "tenant store unavailable", problem.TypeUpstream, http.StatusBadGateway))
	default:
		platformlogging.FromRequest(r, h.logger).Error("get tenant", zap.Error(err))
		problem.Write(w, problem.New("Internal Server Error", "unexpected error", problem.TypeInternal, http.StatusInternalServerError))
	}
}

func toAPITenant(t service.Tenant) tenantDTO {
	out := tenantDTO{
		TenantID:         t.ID,
		Email:            t.Email,
		CompanyName:      t.CompanyName,
		State:            string(t.State),
		ConnectorGroupID: t.ConnectorGroupID,
		ConnectorID:      t.ConnectorID,
		DataReady:        t.DataReady,
	}
	if !t.CreatedAt.IsZero() {
		created := t.CreatedAt.UTC()
		out.CreatedAt = &created
	}
	return out
}
