package service

import (
	"context"
	"sync"
	"time"

	connectorsrepo "github.com/arcims/arcims-web/domains/connectors/be/repo"
	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	tenantsrepo "github.com/arcims/arcims-web/domains/tenants/be/repo"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
)

var epoch = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

// fakeClock either fires timers as soon as they are created (auto) or when Advance passes their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	auto   bool
	timers []*fakeTimer
}

func newAutoClock() *fakeClock   { return &fakeClock{now: epoch, auto: true} }
func newManualClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	if c.auto {
		c.now = t.deadline
		t.fired = true
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.deadline.After(c.now) {
			t.fired = true
			t.ch <- c.now
		}
	}
}

// Pending counts timers that are armed and not yet fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (c *fakeClock) Elapsed() time.Duration {
	return c.Now().Sub(epoch)
}

type fakeTimer struct {
	clock    *fakeClock
	ch       chan time.Time
	deadline time.Time
	fired    bool
	stopped  bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// snapshotRecorder collects snapshots and forwards them to an optional channel.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
	feed  chan Snapshot
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{feed: make(chan Snapshot, 512)}
}

func (r *snapshotRecorder) Observe(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	select {
	case r.feed <- s:
	default:
	}
}

func (r *snapshotRecorder) All() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *snapshotRecorder) Redirects() int {
	n := 0
	for _, s := range r.All() {
		if s.Redirect != "" {
			n++
		}
	}
	return n
}

// tenantStub fails the first lookups with err before delegating to the repository.
type tenantStub struct {
	mu       sync.Mutex
	repo     *tenantsrepo.MemoryRepository
	failures []error
	lookups  int
}

func (s *tenantStub) GetByUser(ctx context.Context, userID string) (tenantsservice.Tenant, error) {
	s.mu.Lock()
	s.lookups++
	var err error
	if len(s.failures) > 0 {
		err, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return tenantsservice.Tenant{}, err
	}
	return s.repo.GetByUser(ctx, userID)
}

type settleCall struct {
	UserID string
	To     tenantsservice.OnboardingState
}

type recordingSettler struct {
	mu    sync.Mutex
	calls []settleCall
}

func (s *recordingSettler) Settle(ctx context.Context, userID string, to tenantsservice.OnboardingState) (tenantsservice.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, settleCall{UserID: userID, To: to})
	return tenantsservice.Tenant{}, nil
}

func (s *recordingSettler) Calls() []settleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settleCall(nil), s.calls...)
}

type memJournal struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (j *memJournal) Record(ctx context.Context, o Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	return nil
}

func (j *memJournal) Latest(ctx context.Context, userID string) (Outcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.outcomes) - 1; i >= 0; i-- {
		if j.outcomes[i].UserID == userID {
			return j.outcomes[i], nil
		}
	}
	return Outcome{}, ErrNoOutcome
}

func (j *memJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.outcomes)
}

const (
	testUser      = "user_1"
	testTenant    = "tenant-1"
	testConnector = "conn_a"
)

type fixture struct {
	clock    *fakeClock
	tenants  *tenantStub
	provider *connectorsrepo.ScriptedProvider
}

func newFixture(clock *fakeClock) *fixture {
	repo := tenantsrepo.NewMemoryRepository()
	name := "Acme AB"
	connector := testConnector
	repo.Put(tenantsservice.Tenant{
		ID:          testTenant,
		UserID:      testUser,
		CompanyName: &name,
		State:       tenantsservice.StateConnecting,
		ConnectorID: &connector,
	})
	provider := connectorsrepo.NewScriptedProvider()
	provider.SetSetup(testTenant, connectorsservice.Setup{ConnectorID: testConnector})
	return &fixture{clock: clock, tenants: &tenantStub{repo: repo}, provider: provider}
}

func (f *fixture) poller(policy Policy, cfg ...func(*PollerConfig)) *Poller {
	pc := PollerConfig{
		Tenants:    f.tenants,
		Connectors: f.provider,
		Policy:     policy,
		Clock:      f.clock,
	}
	for _, fn := range cfg {
		fn(&pc)
	}
	return NewPoller(pc)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.RetryJitter = 0
	return p
}

func states(steps ...connectorsservice.SetupState) []connectorsrepo.Step {
	out := make([]connectorsrepo.Step, len(steps))
	for i, s := range steps {
		out[i] = connectorsrepo.Step{State: s}
	}
	return out
}
