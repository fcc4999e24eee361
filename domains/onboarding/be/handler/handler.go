package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	"github.com/arcims/arcims-web/domains/onboarding/be/service"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	platformlogging "github.com/arcims/arcims-web/platform/go/logging"
	"github.com/arcims/arcims-web/platform/go/problem"
)

const maxBodyBytes = 16 << 10

type operation string

const (
	getOperation     operation = "onboardingGet"
	submitOperation  operation = "onboardingSubmitCompany"
	restartOperation operation = "onboardingRestart"
)

// Handler wires the onboarding service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("onboarding service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes registers the onboarding endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/onboarding", h.Get)
	r.Post("/onboarding/company", h.SubmitCompany)
	r.Post("/onboarding/restart", h.Restart)
}

type statusDTO struct {
	Step        string `json:"step"`
	TenantID    string `json:"tenant_id"`
	State       string `json:"state"`
	CompanyName string `json:"company_name,omitempty"`
}

type companyRequest struct {
	CompanyName string `json:"company_name"`
}

type provisioningDTO struct {
	RedirectURI string `json:"redirect_uri"`
}

// Get implements GET /onboarding.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.Resolve(r.Context(), userID)
	if err != nil {
		h.writeProblem(w, r, err, getOperation)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toStatus(status))
}

// SubmitCompany implements POST /onboarding/company.
func (h *Handler) SubmitCompany(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var body companyRequest
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(raw, &body)
	}
	if err != nil {
		problem.Write(w, problem.New("Invalid request body", "request body must be a JSON object with company_name", problem.TypeValidation, http.StatusBadRequest))
		return
	}

	result, err := h.svc.SubmitCompany(r.Context(), userID, body.CompanyName)
	if err != nil {
		h.writeProblem(w, r, err, submitOperation)
		return
	}

	platformlogging.FromRequest(r, h.logger).Info("connector provisioned",
		zap.String("tenant_id", result.Tenant.ID),
		zap.String("connector_id", result.Setup.ConnectorID),
	)
	problem.WriteJSON(w, http.StatusOK, provisioningDTO{RedirectURI: result.RedirectURI})
}

// Restart implements POST /onboarding/restart.
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.Restart(r.Context(), userID)
	if err != nil {
		h.writeProblem(w, r, err, restartOperation)
		return
	}
	problem.WriteJSON(w, http.StatusOK, toStatus(status))
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil || creds.Id == "" {
		problem.Write(w, problem.New("Unauthorized", "user credentials are required", problem.TypeUnauthorized, http.StatusUnauthorized))
		return "", false
	}
	return creds.Id, true
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, err error, op operation) {
	logger := platformlogging.FromRequest(r, h.logger).With(zap.String("operation", string(op)))

	var p problem.Details
	switch {
	case errors.Is(err, tenantsservice.ErrInvalidCompanyName):
		p = problem.New("Invalid company name", err.Error(), problem.TypeValidation, http.StatusBadRequest)
		p.Errors = map[string][]string{"company_name": {companyNameMessage(err)}}
	case errors.Is(err, tenantsservice.ErrNotFound):
		p = problem.New("Tenant not found", "no tenant is registered for this account, please contact support", problem.TypeNotFound, http.StatusNotFound)
	case errors.Is(err, tenantsservice.ErrInvalidTransition):
		p = problem.New("Conflict", "onboarding cannot change from the current state", problem.TypeConflict, http.StatusConflict)
	case errors.Is(err, service.ErrProvisioningFailed),
		errors.Is(err, tenantsservice.ErrUnavailable),
		errors.Is(err, connectorsservice.ErrUnavailable):
		logger.Warn("onboarding upstream failure", zap.Error(err))
		p = problem.New("Bad Gateway", "failed to set up the data connection, please try again", problem.TypeUpstream, http.StatusBadGateway)
	default:
		logger.Error("onboarding request failed", zap.Error(err))
		p = problem.New("Internal Server Error", "unexpected error", problem.TypeInternal, http.StatusInternalServerError)
	}
	problem.Write(w, p)
}

func companyNameMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func toStatus(s service.Status) statusDTO {
	return statusDTO{
		Step:        string(s.Step),
		TenantID:    s.Tenant.ID,
		State:       string(s.Tenant.State),
		CompanyName: s.CompanyName,
	}
}
