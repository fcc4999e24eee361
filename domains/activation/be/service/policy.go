package service

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a poller run.
type Policy struct {
	// PollInterval separates status queries while the connector is incomplete.
	PollInterval time.Duration
	// RedirectDelay is how long the connected state is shown before navigating.
	RedirectDelay time.Duration
	// MaxAttempts caps status queries per run.
	MaxAttempts int
	// MaxElapsed caps the wall time of a run.
	MaxElapsed time.Duration
	// TransientRetries is how many consecutive retryable failures are tolerated; negative disables retrying.
	TransientRetries int
	// RetryInitial and RetryMax shape the exponential delay between transient retries.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RetryJitter is the randomization factor applied to retry delays.
	RetryJitter float64
	// DashboardPath is where a connected user is sent.
	DashboardPath string
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:     2 * time.Second,
		RedirectDelay:    3 * time.Second,
		MaxAttempts:      150,
		MaxElapsed:       10 * time.Minute,
		TransientRetries: 2,
		RetryInitial:     time.Second,
		RetryMax:         8 * time.Second,
		RetryJitter:      0.2,
		DashboardPath:    "/dashboard",
	}
}

// Normalized fills zero fields with defaults.
func (p Policy) Normalized() Policy {
	d := DefaultPolicy()
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.RedirectDelay <= 0 {
		p.RedirectDelay = d.RedirectDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	if p.TransientRetries == 0 {
		p.TransientRetries = d.TransientRetries
	}
	if p.TransientRetries < 0 {
		p.TransientRetries = 0
	}
	if p.RetryInitial <= 0 {
		p.RetryInitial = d.RetryInitial
	}
	if p.RetryMax < p.RetryInitial {
		p.RetryMax = p.RetryInitial
	}
	if p.RetryJitter < 0 || p.RetryJitter >= 1 {
		p.RetryJitter = 0
	}
	if p.DashboardPath == "" {
		p.DashboardPath = d.DashboardPath
	}
	return p
}

// Validate rejects policies that could never terminate or never poll.
func (p Policy) Validate() error {
	var errs []error
	if p.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if p.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if p.MaxElapsed <= 0 {
		errs = append(errs, errors.New("max elapsed must be positive"))
	}
	if p.RedirectDelay < 0 {
		errs = append(errs, errors.New("redirect delay must not be negative"))
	}
	if len(p.DashboardPath) == 0 || p.DashboardPath[0] != '/' {
		errs = append(errs, errors.New("dashboard path must be absolute"))
	}
	return errors.Join(errs...)
}

// retryBackOff builds the transient retry schedule. It never gives up on its own; the run
// counts retries against TransientRetries.
func (p Policy) retryBackOff(clock Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.RetryInitial
	b.MaxInterval = p.RetryMax
	b.RandomizationFactor = p.RetryJitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Clock = clock
	b.Reset()
	return b
}
