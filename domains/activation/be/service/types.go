package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
)

// ErrNoOutcome is returned by journals with no outcome for the user.
var ErrNoOutcome = errors.New("no activation outcome recorded")

// State is the activation state shown to the user.
type State string

const (
	StateChecking  State = "checking"
	StateConnected State = "connected"
	StateFailed    State = "failed"
)

// Terminal reports whether the state can no longer change within a run.
func (s State) Terminal() bool {
	return s == StateConnected || s == StateFailed
}

// Reason qualifies a failed outcome.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonTenantNotFound     Reason = "tenant_not_found"
	ReasonVerificationFailed Reason = "verification_failed"
	ReasonConnectorMissing   Reason = "connector_missing"
	ReasonConnectionFailed   Reason = "connection_failed"
	ReasonTimeout            Reason = "timeout"
)

// User-facing messages.
const (
	MessageVerifying          = "Verifying your connection..."
	MessageFinalizing         = "Finalizing connection..."
	MessageConnected          = "Connection successful! Your data will sync within 24 hours."
	MessageConnectionFailed   = "Connection failed. Please try again."
	MessageVerificationFailed = "Failed to verify connection."
	MessageTenantNotFound     = "Tenant not found."
	MessageConnectorMissing   = "No data connection was found. Please restart onboarding."
	MessageTimeout            = "Verifying the connection is taking longer than expected. Please try again."
)

// Snapshot is one observable step of a run. Redirect is set on exactly one snapshot of a
// connected run, once the redirect delay has elapsed.
type Snapshot struct {
	State    State
	Reason   Reason
	Message  string
	Attempts int
	Redirect string
	At       time.Time
}

// Terminal reports whether the snapshot ends the run.
func (s Snapshot) Terminal() bool { return s.State.Terminal() }

// Outcome is the result of one poller run. A run stopped by its context keeps StateChecking.
type Outcome struct {
	ID          uuid.UUID
	UserID      string
	TenantID    string
	ConnectorID string
	State       State
	Reason      Reason
	Message     string
	Attempts    int
	Navigated   bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Terminal reports whether the run reached connected or failed.
func (o Outcome) Terminal() bool { return o.State.Terminal() }

// Duration is the time from start to the terminal observation.
func (o Outcome) Duration() time.Duration { return o.FinishedAt.Sub(o.StartedAt) }

// Observer receives every snapshot a run emits, in order, from the run's goroutine.
type Observer interface {
	Observe(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(s Snapshot) { f(s) }

// TenantLookup resolves the tenant owned by a user.
type TenantLookup interface {
	GetByUser(ctx context.Context, userID string) (tenantsservice.Tenant, error)
}

// TenantSettler mirrors a definitive activation result onto the tenant record.
type TenantSettler interface {
	Settle(ctx context.Context, userID string, to tenantsservice.OnboardingState) (tenantsservice.Tenant, error)
}

// Journal stores terminal outcomes.
type Journal interface {
	Record(ctx context.Context, o Outcome) error
	Latest(ctx context.Context, userID string) (Outcome, error)
}

// Metrics receives poller and session counters. All methods must be safe for concurrent use.
type Metrics interface {
	PollCompleted(result string)
	NudgeReceived()
	OutcomeRecorded(state, reason string, elapsed time.Duration)
	SessionStarted()
	SessionEnded()
}

type nopMetrics struct{}

func (nopMetrics) PollCompleted(string)                          {}
func (nopMetrics) NudgeReceived()                                {}
func (nopMetrics) OutcomeRecorded(string, string, time.Duration) {}
func (nopMetrics) SessionStarted()                               {}
func (nopMetrics) SessionEnded()                                 {}
