package service

import (
	"context"
	"errors"
	"fmt"

	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
)

// ErrProvisioningFailed wraps any failure of the company submission. The company name is not
// rolled back when provisioning fails; it is pre-filled on the next attempt.
var ErrProvisioningFailed = errors.New("connector provisioning failed")

// Step is the wizard page a user should be on.
type Step string

const (
	StepCompany    Step = "company"
	StepConnecting Step = "connecting"
	StepDone       Step = "done"
	StepFailed     Step = "failed"
)

// Tenants is the subset of the tenants service onboarding relies on.
type Tenants interface {
	GetByUser(ctx context.Context, userID string) (tenantsservice.Tenant, error)
	SetCompanyName(ctx context.Context, t tenantsservice.Tenant, companyName string) (tenantsservice.Tenant, error)
	Transition(ctx context.Context, t tenantsservice.Tenant, to tenantsservice.OnboardingState) (tenantsservice.Tenant, error)
}

// Connectors provisions the tenant's data connector.
type Connectors interface {
	Provision(ctx context.Context, tenantID string) (connectorsservice.Setup, error)
}

// Activations drops a user's activation session so the next check starts over.
type Activations interface {
	Forget(userID string)
}

// Status is the resolved onboarding position of a user.
type Status struct {
	Tenant tenantsservice.Tenant
	Step   Step
	// CompanyName is the saved name, used to pre-fill the company form.
	CompanyName string
}

// Provisioned is the result of a successful company submission.
type Provisioned struct {
	Tenant      tenantsservice.Tenant
	Setup       connectorsservice.Setup
	RedirectURI string
}

// Service drives the onboarding wizard.
type Service struct {
	tenants     Tenants
	connectors  Connectors
	activations Activations
}

// New constructs a Service with required dependencies. activations may be nil.
func New(tenants Tenants, connectors Connectors, activations Activations) *Service {
	if tenants == nil {
		panic("onboarding tenants service is required")
	}
	if connectors == nil {
		panic("onboarding connectors service is required")
	}
	return &Service{tenants: tenants, connectors: connectors, activations: activations}
}

// Resolve maps the tenant's onboarding state to a wizard step.
func (s *Service) Resolve(ctx context.Context, userID string) (Status, error) {
	t, err := s.tenants.GetByUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	return resolve(t), nil
}

// SubmitCompany saves the company name, provisions the connector and returns the Connect Card URI.
func (s *Service) SubmitCompany(ctx context.Context, userID, companyName string) (Provisioned, error) {
	name, err := tenantsservice.NormalizeCompanyName(companyName)
	if err != nil {
		return Provisioned{}, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	t, err := s.tenants.GetByUser(ctx, userID)
	if err != nil {
		return Provisioned{}, fmt.Errorf("%w: lookup tenant: %w", ErrProvisioningFailed, err)
	}
	switch {
	case t.State == tenantsservice.StateConnected, t.State == tenantsservice.StateFailed:
		return Provisioned{}, fmt.Errorf("%w: %w: tenant is %s", ErrProvisioningFailed, tenantsservice.ErrInvalidTransition, t.State)
	case t.State == tenantsservice.StateConnecting && t.HasConnector():
		// A second setup would create another group and connector; restart first.
		return Provisioned{}, fmt.Errorf("%w: %w: tenant already has a connector", ErrProvisioningFailed, tenantsservice.ErrInvalidTransition)
	}

	if t, err = s.tenants.SetCompanyName(ctx, t, name); err != nil {
		return Provisioned{}, fmt.Errorf("%w: save company name: %w", ErrProvisioningFailed, err)
	}

	setup, err := s.connectors.Provision(ctx, t.ID)
	if err != nil {
		return Provisioned{}, fmt.Errorf("%w: setup connector: %w", ErrProvisioningFailed, err)
	}

	// The backend already moves the tenant to connecting on setup; this keeps other stores in step.
	if t, err = s.tenants.Transition(ctx, t, tenantsservice.StateConnecting); err != nil {
		return Provisioned{}, fmt.Errorf("%w: mark connecting: %w", ErrProvisioningFailed, err)
	}
	if t.ConnectorID == nil && setup.ConnectorID != "" {
		connectorID := setup.ConnectorID
		t.ConnectorID = &connectorID
	}
	if t.ConnectorGroupID == nil && setup.GroupID != "" {
		groupID := setup.GroupID
		t.ConnectorGroupID = &groupID
	}

	s.forget(userID)
	return Provisioned{Tenant: t, Setup: setup, RedirectURI: setup.ConnectCardURI}, nil
}

// Restart moves a connecting or failed tenant back to pending, the "Try Again" action.
func (s *Service) Restart(ctx context.Context, userID string) (Status, error) {
	t, err := s.tenants.GetByUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if t, err = s.tenants.Transition(ctx, t, tenantsservice.StatePending); err != nil {
		return Status{}, err
	}
	s.forget(userID)
	return resolve(t), nil
}

func (s *Service) forget(userID string) {
	if s.activations != nil {
		s.activations.Forget(userID)
	}
}

func resolve(t tenantsservice.Tenant) Status {
	st := Status{Tenant: t}
	if t.CompanyName != nil {
		st.CompanyName = *t.CompanyName
	}
	switch {
	case t.State == tenantsservice.StateConnected:
		st.Step = StepDone
	case !t.HasCompanyName():
		// A run without a saved name cannot be resumed; ask for it again.
		st.Step = StepCompany
	case t.State == tenantsservice.StateFailed:
		st.Step = StepFailed
	case t.State == tenantsservice.StateConnecting:
		st.Step = StepConnecting
	default:
		st.Step = StepCompany
	}
	return st
}
