package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Errors returned by the service layer.
var (
	// ErrNotFound means the tenant has no connector (or does not exist) as far as the provider knows.
	ErrNotFound = errors.New("connector not found")
	// ErrUnavailable marks failures worth retrying: network errors, timeouts, 5xx and throttling.
	ErrUnavailable = errors.New("connector provider unavailable")
	// ErrInvalidSetup means provisioning answered without a usable authorization URI.
	ErrInvalidSetup = errors.New("invalid connector setup response")
)

// SetupState is the authorization state of a connector.
type SetupState string

const (
	SetupIncomplete SetupState = "incomplete"
	SetupConnected  SetupState = "connected"
	SetupBroken     SetupState = "broken"
)

// ParseSetupState maps provider values; anything unrecognised is treated as incomplete so callers keep waiting.
func ParseSetupState(s string) SetupState {
	switch SetupState(strings.ToLower(strings.TrimSpace(s))) {
	case SetupConnected:
		return SetupConnected
	case SetupBroken:
		return SetupBroken
	default:
		return SetupIncomplete
	}
}

// Terminal reports whether no further polling can change the outcome.
func (s SetupState) Terminal() bool {
	return s == SetupConnected || s == SetupBroken
}

// Status is a point-in-time view of a connector. It is never cached.
type Status struct {
	ConnectorID      string
	SetupState       SetupState
	SyncState        string
	IsHistoricalSync bool
	SucceededAt      *time.Time
	FailedAt         *time.Time
}

// Setup is the result of provisioning a connector for a tenant.
type Setup struct {
	GroupID        string
	ConnectorID    string
	ConnectCardURI string
	Service        string
}

// Provider abstracts the connector provisioning service.
type Provider interface {
	Setup(ctx context.Context, tenantID string) (Setup, error)
	Status(ctx context.Context, tenantID string) (Status, error)
}

// Service exposes connector provisioning and status lookups.
type Service struct {
	provider Provider
}

// New constructs a Service with required dependencies.
func New(provider Provider) *Service {
	if provider == nil {
		panic("connector provider is required")
	}
	return &Service{provider: provider}
}

// Provision creates the connector and returns where the user must go to authorize it.
func (s *Service) Provision(ctx context.Context, tenantID string) (Setup, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Setup{}, ErrNotFound
	}
	setup, err := s.provider.Setup(ctx, tenantID)
	if err != nil {
		return Setup{}, err
	}
	if err := validateConnectCardURI(setup.ConnectCardURI); err != nil {
		return Setup{}, err
	}
	return setup, nil
}

// Status performs one fresh status query for the tenant's connector.
func (s *Service) Status(ctx context.Context, tenantID string) (Status, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Status{}, ErrNotFound
	}
	return s.provider.Status(ctx, tenantID)
}

// IsUnavailable reports whether err is worth retrying.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func validateConnectCardURI(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: connect card uri is empty", ErrInvalidSetup)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: connect card uri %q is not an absolute http(s) url", ErrInvalidSetup, raw)
	}
	return nil
}
