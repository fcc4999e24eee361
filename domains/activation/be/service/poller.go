package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
	"github.com/arcims/arcims-web/platform/go/notify"
	"github.com/arcims/arcims-web/platform/go/requesttrace"
)

// StatusQuerier performs one fresh connector status query.
type StatusQuerier interface {
	Status(ctx context.Context, tenantID string) (connectorsservice.Status, error)
}

// PollerConfig wires a Poller. Tenants and Connectors are required.
type PollerConfig struct {
	Tenants    TenantLookup
	Connectors StatusQuerier
	// Nudges is optional; a nudge for the tenant's connector cuts the current wait short.
	Nudges  notify.Bus
	Policy  Policy
	Clock   Clock
	Logger  *zap.Logger
	Metrics Metrics
}

// Poller drives a single user's connector from checking to a terminal state.
type Poller struct {
	tenants    TenantLookup
	connectors StatusQuerier
	nudges     notify.Bus
	policy     Policy
	clock      Clock
	logger     *zap.Logger
	metrics    Metrics
}

// NewPoller constructs a Poller with required dependencies.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Tenants == nil {
		panic("activation poller: tenant lookup is required")
	}
	if cfg.Connectors == nil {
		panic("activation poller: status querier is required")
	}
	p := &Poller{
		tenants:    cfg.Tenants,
		connectors: cfg.Connectors,
		nudges:     cfg.Nudges,
		policy:     cfg.Policy.Normalized(),
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if p.clock == nil {
		p.clock = RealClock()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	return p
}

// Policy returns the effective policy.
func (p *Poller) Policy() Policy { return p.policy }

// Run polls until a terminal state, the attempt or time ceiling, or ctx cancellation.
// It issues at most one status query at a time and owns the only timer of the run, which is
// stopped before Run returns. obs may be nil.
func (p *Poller) Run(ctx context.Context, userID string, obs Observer) Outcome {
	if obs == nil {
		obs = ObserverFunc(func(Snapshot) {})
	}
	id := uuid.New()
	r := &run{
		p:       p,
		obs:     obs,
		logger:  p.logger.With(zap.String("user_id", userID), zap.String("run_id", id.String())),
		retry:   p.policy.retryBackOff(p.clock),
		started: p.clock.Now(),
		outcome: Outcome{ID: id, UserID: userID, State: StateChecking},
	}
	// Backend calls of this run share the run id as their request id.
	ctx = requesttrace.IntoContext(ctx, requesttrace.Poller(userID, id.String()))
	return r.execute(ctx)
}

type run struct {
	p       *Poller
	obs     Observer
	logger  *zap.Logger
	retry   *backoff.ExponentialBackOff
	nudges  <-chan notify.Nudge
	started time.Time
	outcome Outcome
}

func (r *run) execute(ctx context.Context) Outcome {
	r.outcome.StartedAt = r.started
	r.emit(StateChecking, ReasonNone, MessageVerifying)

	tenant, done := r.lookupTenant(ctx)
	if done {
		return r.outcome
	}
	r.outcome.TenantID = tenant.ID
	if tenant.ConnectorID != nil {
		r.outcome.ConnectorID = *tenant.ConnectorID
	}
	r.logger = r.logger.With(zap.String("tenant_id", tenant.ID))

	if r.p.nudges != nil && tenant.HasConnector() {
		ch, unsubscribe := r.p.nudges.Subscribe(*tenant.ConnectorID)
		defer unsubscribe()
		r.nudges = ch
	}

	policy := r.p.policy
	transient := 0
	for {
		if ctx.Err() != nil {
			return r.canceled()
		}
		if r.exhausted() {
			r.logger.Info("activation gave up", zap.Int("attempts", r.outcome.Attempts))
			return r.fail(ReasonTimeout, MessageTimeout)
		}

		r.outcome.Attempts++
		status, err := r.p.connectors.Status(ctx, tenant.ID)
		if err != nil {
			if ctx.Err() != nil {
				return r.canceled()
			}
			switch {
			case errors.Is(err, connectorsservice.ErrNotFound):
				r.p.metrics.PollCompleted("not_found")
				return r.fail(ReasonConnectorMissing, MessageConnectorMissing)
			case connectorsservice.IsUnavailable(err) && transient < policy.TransientRetries:
				transient++
				r.p.metrics.PollCompleted("transient")
				delay := r.retry.NextBackOff()
				r.logger.Warn("connector status unavailable, retrying",
					zap.Int("retry", transient), zap.Duration("delay", delay), zap.Error(err))
				if !r.wait(ctx, delay, true) {
					return r.canceled()
				}
				continue
			default:
				r.p.metrics.PollCompleted("error")
				r.logger.Warn("connector status query failed", zap.Error(err))
				return r.fail(ReasonVerificationFailed, MessageVerificationFailed)
			}
		}

		transient = 0
		r.retry.Reset()
		r.p.metrics.PollCompleted(string(status.SetupState))
		if status.ConnectorID != "" {
			r.outcome.ConnectorID = status.ConnectorID
		}

		switch status.SetupState {
		case connectorsservice.SetupConnected:
			return r.connect(ctx)
		case connectorsservice.SetupBroken:
			return r.fail(ReasonConnectionFailed, MessageConnectionFailed)
		}

		r.emit(StateChecking, ReasonNone, MessageFinalizing)
		if !r.wait(ctx, policy.PollInterval, true) {
			return r.canceled()
		}
	}
}

// lookupTenant resolves the tenant once per run; done is true when the run already ended.
func (r *run) lookupTenant(ctx context.Context) (tenantsservice.Tenant, bool) {
	transient := 0
	for {
		tenant, err := r.p.tenants.GetByUser(ctx, r.outcome.UserID)
		if err == nil {
			r.retry.Reset()
			return tenant, false
		}
		if ctx.Err() != nil {
			r.canceled()
			return tenantsservice.Tenant{}, true
		}
		switch {
		case errors.Is(err, tenantsservice.ErrNotFound):
			r.fail(ReasonTenantNotFound, MessageTenantNotFound)
			return tenantsservice.Tenant{}, true
		case errors.Is(err, tenantsservice.ErrUnavailable) && transient < r.p.policy.TransientRetries && !r.exhausted():
			transient++
			delay := r.retry.NextBackOff()
			r.logger.Warn("tenant lookup unavailable, retrying", zap.Int("retry", transient), zap.Duration("delay", delay), zap.Error(err))
			if !r.wait(ctx, delay, false) {
				r.canceled()
				return tenantsservice.Tenant{}, true
			}
		case errors.Is(err, tenantsservice.ErrUnavailable) && r.exhausted():
			r.logger.Warn("tenant lookup unavailable past the run limits", zap.Int("retries", transient), zap.Error(err))
			r.fail(ReasonTimeout, MessageTimeout)
			return tenantsservice.Tenant{}, true
		default:
			r.logger.Warn("tenant lookup failed", zap.Error(err))
			r.fail(ReasonVerificationFailed, MessageVerificationFailed)
			return tenantsservice.Tenant{}, true
		}
	}
}

func (r *run) connect(ctx context.Context) Outcome {
	r.finish(StateConnected, ReasonNone, MessageConnected)
	snap := r.emit(StateConnected, ReasonNone, MessageConnected)

	if !r.wait(ctx, r.p.policy.RedirectDelay, false) {
		r.logger.Info("activation connected, redirect canceled")
		return r.outcome
	}
	snap.Redirect = r.p.policy.DashboardPath
	snap.At = r.p.clock.Now()
	r.obs.Observe(snap)
	r.outcome.Navigated = true
	r.logger.Info("activation connected", zap.Int("attempts", r.outcome.Attempts))
	return r.outcome
}

func (r *run) fail(reason Reason, message string) Outcome {
	r.finish(StateFailed, reason, message)
	r.emit(StateFailed, reason, message)
	r.logger.Info("activation failed", zap.String("reason", string(reason)), zap.Int("attempts", r.outcome.Attempts))
	return r.outcome
}

func (r *run) canceled() Outcome {
	r.outcome.FinishedAt = r.p.clock.Now()
	r.logger.Debug("activation canceled", zap.Int("attempts", r.outcome.Attempts))
	return r.outcome
}

func (r *run) finish(state State, reason Reason, message string) {
	r.outcome.State = state
	r.outcome.Reason = reason
	r.outcome.Message = message
	r.outcome.FinishedAt = r.p.clock.Now()
}

func (r *run) emit(state State, reason Reason, message string) Snapshot {
	snap := Snapshot{
		State:    state,
		Reason:   reason,
		Message:  message,
		Attempts: r.outcome.Attempts,
		At:       r.p.clock.Now(),
	}
	r.obs.Observe(snap)
	return snap
}

func (r *run) exhausted() bool {
	policy := r.p.policy
	return r.outcome.Attempts >= policy.MaxAttempts || r.p.clock.Now().Sub(r.started) >= policy.MaxElapsed
}

// wait blocks for d, returning false when ctx ends first. Nudges cut the wait short when allowed.
func (r *run) wait(ctx context.Context, d time.Duration, nudgeable bool) bool {
	if remaining := r.p.policy.MaxElapsed - r.p.clock.Now().Sub(r.started); nudgeable && remaining > 0 && d > remaining {
		d = remaining
	}
	timer := r.p.clock.NewTimer(d)
	defer timer.Stop()

	var nudges <-chan notify.Nudge
	if nudgeable {
		nudges = r.nudges
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	case n := <-nudges:
		r.p.metrics.NudgeReceived()
		r.logger.Debug("activation nudged", zap.String("event", n.Event))
		return true
	}
}
