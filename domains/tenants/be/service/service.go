package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Errors returned by the service layer.
var (
	ErrNotFound           = errors.New("tenant not found")
	ErrInvalidTransition  = errors.New("invalid onboarding state transition")
	ErrInvalidCompanyName = errors.New("invalid company name")
	// ErrUnavailable marks store failures worth retrying.
	ErrUnavailable = errors.New("tenant store unavailable")
)

// MaxCompanyNameLength bounds the company name in runes.
const MaxCompanyNameLength = 200

// OnboardingState is the coarse lifecycle stage of a tenant's setup.
type OnboardingState string

const (
	StatePending    OnboardingState = "pending"
	StateConnecting OnboardingState = "connecting"
	StateConnected  OnboardingState = "connected"
	StateFailed     OnboardingState = "failed"
)

// StateFromString converts a stored string to OnboardingState.
// The legacy backend values "syncing" and "ready" both mean the connector is usable; unknown values default to pending.
func StateFromString(s string) OnboardingState {
	switch OnboardingState(strings.ToLower(strings.TrimSpace(s))) {
	case StatePending:
		return StatePending
	case StateConnecting:
		return StateConnecting
	case StateConnected, "syncing", "ready":
		return StateConnected
	case StateFailed:
		return StateFailed
	default:
		return StatePending
	}
}

// Tenant is the front-end view of a backend tenant record.
type Tenant struct {
	ID               string
	UserID           string
	Email            string
	CompanyName      *string
	State            OnboardingState
	ConnectorGroupID *string
	ConnectorID      *string
	SnowflakeRole    string
	DataReady        bool
	CreatedAt        time.Time
}

// HasCompanyName reports whether a non-blank company name has been saved.
func (t Tenant) HasCompanyName() bool {
	return t.CompanyName != nil && strings.TrimSpace(*t.CompanyName) != ""
}

// HasConnector reports whether provisioning assigned a connector.
func (t Tenant) HasConnector() bool {
	return t.ConnectorID != nil && *t.ConnectorID != ""
}

// Repository abstracts the tenant record store.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (Tenant, error)
	UpdateCompanyName(ctx context.Context, tenantID, companyName string) (Tenant, error)
	UpdateState(ctx context.Context, tenantID string, state OnboardingState) (Tenant, error)
}

// Service provides tenant lookups and guarded mutations.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	return &Service{repo: repo}
}

// GetByUser returns the tenant owned by the identity-provider user.
func (s *Service) GetByUser(ctx context.Context, userID string) (Tenant, error) {
	if strings.TrimSpace(userID) == "" {
		return Tenant{}, ErrNotFound
	}
	return s.repo.GetByUser(ctx, userID)
}

// SetCompanyName validates and persists the company name.
func (s *Service) SetCompanyName(ctx context.Context, t Tenant, companyName string) (Tenant, error) {
	name, err := NormalizeCompanyName(companyName)
	if err != nil {
		return Tenant{}, err
	}
	return s.repo.UpdateCompanyName(ctx, t.ID, name)
}

// Transition moves the tenant to the target state when the lifecycle allows it.
// Re-applying the current state is a no-op.
func (s *Service) Transition(ctx context.Context, t Tenant, to OnboardingState) (Tenant, error) {
	if t.State == to {
		return t, nil
	}
	if !CanTransition(t.State, to) {
		return Tenant{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	return s.repo.UpdateState(ctx, t.ID, to)
}

// Settle records the final activation result on the user's tenant. A tenant still in pending is
// first moved to connecting, since the result proves provisioning already happened.
func (s *Service) Settle(ctx context.Context, userID string, to OnboardingState) (Tenant, error) {
	t, err := s.GetByUser(ctx, userID)
	if err != nil {
		return Tenant{}, err
	}
	if t.State == StatePending && (to == StateConnected || to == StateFailed) {
		if t, err = s.Transition(ctx, t, StateConnecting); err != nil {
			return Tenant{}, err
		}
	}
	return s.Transition(ctx, t, to)
}

// CanTransition encodes the monotonic lifecycle plus the explicit retry edges.
func CanTransition(from, to OnboardingState) bool {
	switch from {
	case StatePending:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateFailed || to == StatePending
	case StateFailed:
		return to == StatePending
	default:
		return false
	}
}

// NormalizeCompanyName trims the name and enforces presence and length.
func NormalizeCompanyName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: company name is required", ErrInvalidCompanyName)
	}
	if utf8.RuneCountInString(trimmed) > MaxCompanyNameLength {
		return "", fmt.Errorf("%w: company name exceeds %d characters", ErrInvalidCompanyName, MaxCompanyNameLength)
	}
	return trimmed, nil
}
