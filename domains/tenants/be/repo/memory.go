package repo

import (
	"context"
	"sync"

	"github.com/arcims/arcims-web/domains/tenants/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local development.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]service.Tenant
	byUser map[string]string
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]service.Tenant), byUser: make(map[string]string)}
}

// Put seeds or replaces a tenant record.
func (r *MemoryRepository) Put(t service.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[t.ID] = t
	r.byUser[t.UserID] = t.ID
}

// AssignConnector records connector identifiers; already-assigned identifiers are kept.
func (r *MemoryRepository) AssignConnector(tenantID, groupID, connectorID string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[tenantID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	if t.ConnectorGroupID == nil {
		t.ConnectorGroupID = &groupID
	}
	if t.ConnectorID == nil {
		t.ConnectorID = &connectorID
	}
	r.byID[tenantID] = t
	return t, nil
}

func (r *MemoryRepository) GetByUser(ctx context.Context, userID string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[userID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

// GetByID returns a tenant by its identifier.
func (r *MemoryRepository) GetByID(ctx context.Context, tenantID string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[tenantID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) UpdateCompanyName(ctx context.Context, tenantID, companyName string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[tenantID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	name := companyName
	t.CompanyName = &name
	r.byID[tenantID] = t
	return t, nil
}

func (r *MemoryRepository) UpdateState(ctx context.Context, tenantID string, state service.OnboardingState) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[tenantID]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	t.State = state
	r.byID[tenantID] = t
	return t, nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
