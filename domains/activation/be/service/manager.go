package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
)

const (
	defaultRetainTerminal = 5 * time.Minute
	defaultLeaseTTL       = 30 * time.Second
	recordTimeout         = 10 * time.Second
)

// ManagerConfig wires a Manager. Poller is required.
type ManagerConfig struct {
	Poller  *Poller
	Journal Journal
	Tenants TenantSettler
	Logger  *zap.Logger
	Metrics Metrics
	// RetainTerminal keeps finished sessions readable so repeated reads see the same outcome.
	RetainTerminal time.Duration
	// LeaseTTL is how long a plain status read keeps a poller alive without a streaming subscriber.
	LeaseTTL time.Duration
}

// Manager runs at most one live poller per user and fans its snapshots out to subscribers.
type Manager struct {
	poller  *Poller
	journal Journal
	tenants TenantSettler
	logger  *zap.Logger
	metrics Metrics
	retain  time.Duration
	lease   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager with required dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Poller == nil {
		panic("activation manager: poller is required")
	}
	m := &Manager{
		poller:   cfg.Poller,
		journal:  cfg.Journal,
		tenants:  cfg.Tenants,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		retain:   cfg.RetainTerminal,
		lease:    cfg.LeaseTTL,
		sessions: make(map[string]*Session),
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.retain <= 0 {
		m.retain = defaultRetainTerminal
	}
	if m.lease <= 0 {
		m.lease = defaultLeaseTTL
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Acquire returns the user's session, starting a poller when none is live or retained.
// The release func must be called once the caller stops observing; the last release of a
// running session cancels its poller.
func (m *Manager) Acquire(userID string) (*Session, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[userID]
	if s != nil && s.expired(m.poller.clock.Now(), m.retain) {
		delete(m.sessions, userID)
		s = nil
	}
	if s == nil {
		s = m.startLocked(userID)
	}
	s.refs++

	var once sync.Once
	return s, func() { once.Do(func() { m.release(s) }) }
}

// Touch is Acquire for callers that cannot hold a subscription, such as a plain status read.
// The session is kept alive for the lease TTL after the most recent Touch.
func (m *Manager) Touch(userID string) *Session {
	s, release := m.Acquire(userID)
	if s.Terminal() {
		release()
		return s
	}

	s.mu.Lock()
	if l := s.lease; l != nil && l.timer.Stop() {
		l.timer.Reset(m.lease)
		s.mu.Unlock()
		release()
		return s
	}
	l := &lease{release: release}
	l.timer = time.AfterFunc(m.lease, func() {
		s.mu.Lock()
		if s.lease == l {
			s.lease = nil
		}
		s.mu.Unlock()
		l.release()
	})
	s.lease = l
	s.mu.Unlock()
	return s
}

// Lookup returns the user's current session without starting one.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.expired(m.poller.clock.Now(), m.retain) {
		return nil, false
	}
	return s, true
}

// Forget cancels any running poller for the user and drops a retained outcome, so the next
// Acquire starts afresh. Used when onboarding is restarted.
func (m *Manager) Forget(userID string) {
	m.mu.Lock()
	s := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if s != nil {
		s.cancel()
	}
}

// Latest returns the most recent recorded outcome for the user.
func (m *Manager) Latest(ctx context.Context, userID string) (Outcome, error) {
	if m.journal == nil {
		return Outcome{}, ErrNoOutcome
	}
	return m.journal.Latest(ctx, userID)
}

// Close cancels every poller and waits for them to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) startLocked(userID string) *Session {
	ctx, cancel := context.WithCancel(m.ctx)
	s := newSession(userID, cancel, m.poller.clock.Now())
	m.sessions[userID] = s

	m.metrics.SessionStarted()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.metrics.SessionEnded()
		out := m.poller.Run(ctx, userID, s)
		m.finish(s, out)
	}()
	return s
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	s.refs--
	idle := s.refs <= 0 && !s.Terminal()
	if idle && m.sessions[s.userID] == s {
		delete(m.sessions, s.userID)
	}
	m.mu.Unlock()

	if idle {
		s.cancel()
	}
}

func (m *Manager) finish(s *Session, out Outcome) {
	if out.Terminal() {
		m.record(out)
	} else {
		m.mu.Lock()
		if m.sessions[s.userID] == s {
			delete(m.sessions, s.userID)
		}
		m.mu.Unlock()
	}
	s.close(out, m.poller.clock.Now())
}

func (m *Manager) record(out Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), recordTimeout)
	defer cancel()

	logger := m.logger.With(zap.String("user_id", out.UserID), zap.String("outcome_id", out.ID.String()))
	m.metrics.OutcomeRecorded(string(out.State), string(out.Reason), out.Duration())

	if m.journal != nil {
		if err := m.journal.Record(ctx, out); err != nil {
			logger.Warn("record activation outcome", zap.Error(err))
		}
	}

	// Only definitive connector answers are mirrored; timeouts and query failures leave the tenant as is.
	var to tenantsservice.OnboardingState
	switch {
	case out.State == StateConnected:
		to = tenantsservice.StateConnected
	case out.Reason == ReasonConnectionFailed:
		to = tenantsservice.StateFailed
	default:
		return
	}
	if m.tenants != nil {
		if _, err := m.tenants.Settle(ctx, out.UserID, to); err != nil {
			logger.Warn("mirror activation outcome on tenant", zap.String("state", string(to)), zap.Error(err))
		}
	}
}

type lease struct {
	timer   *time.Timer
	release func()
}

// Session is one user's poller run as seen by its observers.
type Session struct {
	userID string
	cancel context.CancelFunc
	done   chan struct{}
	refs   int // guarded by Manager.mu

	mu       sync.Mutex
	latest   Snapshot
	outcome  *Outcome
	finished time.Time
	nextSub  int
	subs     map[int]chan Snapshot
	lease    *lease
}

func newSession(userID string, cancel context.CancelFunc, now time.Time) *Session {
	return &Session{
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
		latest: Snapshot{State: StateChecking, Message: MessageVerifying, At: now},
		subs:   make(map[int]chan Snapshot),
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string { return s.userID }

// Snapshot returns the most recent snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Outcome returns the run result once the run has ended.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Terminal reports whether the session reached connected or failed.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.Terminal()
}

// Done is closed when the run has ended and its outcome is recorded.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe returns a channel that first yields the current snapshot and then later ones.
// A slow reader only misses intermediate snapshots; the newest one always wins. The channel
// is closed after the run ends. A redirect is handed out once: replays after that carry
// the snapshot without it.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- s.latest
	// The navigation goes to one reader only; later readers see the plain connected state.
	s.latest.Redirect = ""
	if s.outcome != nil || s.isDone() {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Observe implements Observer for the session's own run.
func (s *Session) Observe(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = snap
	if len(s.subs) > 0 {
		s.latest.Redirect = ""
	}
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) close(out Outcome, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out.Terminal() {
		s.outcome = &out
	}
	s.finished = now
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	if s.lease != nil {
		s.lease.timer.Stop()
		s.lease = nil
	}
	close(s.done)
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) expired(now time.Time, retain time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return false
	}
	return now.Sub(s.finished) > retain
}
