package repo

import (
	"context"
	"errors"

	"github.com/arcims/arcims-web/domains/tenants/be/service"
	"github.com/arcims/arcims-web/platform/go/backend"
)

// TenantAPI is the subset of the backend client used for tenant records.
type TenantAPI interface {
	GetTenantByUser(ctx context.Context, userID string) (backend.Tenant, error)
	UpdateCompanyName(ctx context.Context, tenantID, companyName string) (backend.Tenant, error)
	UpdateOnboardingState(ctx context.Context, tenantID, state string) (backend.Tenant, error)
}

// BackendRepository reads and mutates tenant records through the backend API, which owns them.
type BackendRepository struct {
	api TenantAPI
}

// NewBackendRepository constructs a repository backed by the backend API client.
func NewBackendRepository(api TenantAPI) *BackendRepository {
	if api == nil {
		panic("tenant api is required")
	}
	return &BackendRepository{api: api}
}

func (r *BackendRepository) GetByUser(ctx context.Context, userID string) (service.Tenant, error) {
	rec, err := r.api.GetTenantByUser(ctx, userID)
	if err != nil {
		return service.Tenant{}, mapError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *BackendRepository) UpdateCompanyName(ctx context.Context, tenantID, companyName string) (service.Tenant, error) {
	rec, err := r.api.UpdateCompanyName(ctx, tenantID, companyName)
	if err != nil {
		return service.Tenant{}, mapError(err)
	}
	return toServiceTenant(rec), nil
}

func (r *BackendRepository) UpdateState(ctx context.Context, tenantID string, state service.OnboardingState) (service.Tenant, error) {
	rec, err := r.api.UpdateOnboardingState(ctx, tenantID, string(state))
	if err != nil {
		return service.Tenant{}, mapError(err)
	}
	return toServiceTenant(rec), nil
}

func toServiceTenant(rec backend.Tenant) service.Tenant {
	return service.Tenant{
		ID:               rec.TenantID,
		UserID:           rec.ClerkUserID,
		Email:            rec.Email,
		CompanyName:      rec.CompanyName,
		State:            service.StateFromString(rec.OnboardingState),
		ConnectorGroupID: nonEmpty(rec.FivetranGroupID),
		ConnectorID:      nonEmpty(rec.FivetranConnectorID),
		SnowflakeRole:    rec.SnowflakeRole,
		DataReady:        rec.DataReady,
		CreatedAt:        backend.ParseTimestamp(rec.CreatedAt),
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func mapError(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return errors.Join(service.ErrNotFound, err)
	case errors.Is(err, backend.ErrTransient):
		return errors.Join(service.ErrUnavailable, err)
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*BackendRepository)(nil)
