package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
)

type managerFixture struct {
	*fixture
	journal *memJournal
	settler *recordingSettler
	manager *Manager
}

func newManagerFixture(t *testing.T, clock *fakeClock, leaseTTL time.Duration) *managerFixture {
	t.Helper()
	f := newFixture(clock)
	mf := &managerFixture{fixture: f, journal: &memJournal{}, settler: &recordingSettler{}}
	mf.manager = NewManager(ManagerConfig{
		Poller:         f.poller(testPolicy()),
		Journal:        mf.journal,
		Tenants:        mf.settler,
		Logger:         zaptest.NewLogger(t),
		RetainTerminal: time.Minute,
		LeaseTTL:       leaseTTL,
	})
	t.Cleanup(mf.manager.Close)
	return mf
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestManagerSharesOneSessionPerUser(t *testing.T) {
	mf := newManagerFixture(t, newManualClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete)...)

	a, releaseA := mf.manager.Acquire(testUser)
	defer releaseA()
	b, releaseB := mf.manager.Acquire(testUser)
	defer releaseB()

	require.Same(t, a, b)
	require.Eventually(t, func() bool { return mf.clock.Pending() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, mf.provider.Calls(testTenant))
	require.Equal(t, MessageFinalizing, a.Snapshot().Message)
}

func TestManagerLastReleaseCancels(t *testing.T) {
	mf := newManagerFixture(t, newManualClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete)...)

	s, releaseA := mf.manager.Acquire(testUser)
	_, releaseB := mf.manager.Acquire(testUser)
	require.Eventually(t, func() bool { return mf.clock.Pending() == 1 }, time.Second, time.Millisecond)

	releaseA()
	releaseA()
	select {
	case <-s.Done():
		t.Fatal("session must survive while a subscriber remains")
	case <-time.After(20 * time.Millisecond):
	}

	releaseB()
	waitDone(t, s)

	_, terminal := s.Outcome()
	require.False(t, terminal)
	require.Zero(t, mf.clock.Pending())
	require.Zero(t, mf.journal.Len())
	_, ok := mf.manager.Lookup(testUser)
	require.False(t, ok)

	// A new acquirer gets a fresh run.
	next, release := mf.manager.Acquire(testUser)
	defer release()
	require.NotSame(t, s, next)
}

func TestManagerRetainsTerminalOutcome(t *testing.T) {
	mf := newManagerFixture(t, newAutoClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete, connectorsservice.SetupConnected)...)

	s, release := mf.manager.Acquire(testUser)
	waitDone(t, s)
	release()

	out, ok := s.Outcome()
	require.True(t, ok)
	require.Equal(t, StateConnected, out.State)
	require.True(t, out.Navigated)
	require.Equal(t, "/dashboard", s.Snapshot().Redirect)

	require.Equal(t, 1, mf.journal.Len())
	latest, err := mf.manager.Latest(context.Background(), testUser)
	require.NoError(t, err)
	require.Equal(t, out.ID, latest.ID)
	require.Equal(t, []settleCall{{UserID: testUser, To: tenantsservice.StateConnected}}, mf.settler.Calls())

	// Repeated reads see the same outcome and never start another run.
	// Only the first reader after the run is handed the redirect.
	for i := range 3 {
		again, releaseAgain := mf.manager.Acquire(testUser)
		require.Same(t, s, again)
		ch, cancel := again.Subscribe()
		snap, open := <-ch
		require.True(t, open)
		require.Equal(t, StateConnected, snap.State)
		if i == 0 {
			require.Equal(t, "/dashboard", snap.Redirect)
		} else {
			require.Empty(t, snap.Redirect)
		}
		_, open = <-ch
		require.False(t, open)
		cancel()
		releaseAgain()
	}
	require.Equal(t, 2, mf.provider.Calls(testTenant))
	require.Equal(t, 1, mf.journal.Len())

	touched := mf.manager.Touch(testUser)
	require.Same(t, s, touched)
}

func TestManagerRestartsAfterRetention(t *testing.T) {
	mf := newManagerFixture(t, newAutoClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupBroken)...)

	first, release := mf.manager.Acquire(testUser)
	waitDone(t, first)
	release()

	mf.clock.Advance(2 * time.Minute)
	_, ok := mf.manager.Lookup(testUser)
	require.False(t, ok)

	second, release := mf.manager.Acquire(testUser)
	defer release()
	require.NotSame(t, first, second)
	waitDone(t, second)
	require.Equal(t, 2, mf.journal.Len())
}

func TestManagerForgetDropsOutcome(t *testing.T) {
	mf := newManagerFixture(t, newAutoClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupBroken)...)

	first, release := mf.manager.Acquire(testUser)
	waitDone(t, first)
	release()

	mf.manager.Forget(testUser)
	_, ok := mf.manager.Lookup(testUser)
	require.False(t, ok)

	mf.provider.Script(testTenant, states(connectorsservice.SetupConnected)...)
	second, release := mf.manager.Acquire(testUser)
	defer release()
	waitDone(t, second)
	out, _ := second.Outcome()
	require.Equal(t, StateConnected, out.State)
}

func TestManagerForgetCancelsRunningPoller(t *testing.T) {
	mf := newManagerFixture(t, newManualClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete)...)

	s, release := mf.manager.Acquire(testUser)
	defer release()
	require.Eventually(t, func() bool { return mf.clock.Pending() == 1 }, time.Second, time.Millisecond)

	mf.manager.Forget(testUser)
	waitDone(t, s)
	require.Zero(t, mf.clock.Pending())
}

func TestManagerMirrorsOnlyDefinitiveOutcomes(t *testing.T) {
	testCases := []struct {
		name  string
		steps []connectorsservice.SetupState
		want  []settleCall
	}{
		{name: "broken", steps: []connectorsservice.SetupState{connectorsservice.SetupBroken}, want: []settleCall{{UserID: testUser, To: tenantsservice.StateFailed}}},
		{name: "timeout", steps: []connectorsservice.SetupState{connectorsservice.SetupIncomplete}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mf := newManagerFixture(t, newAutoClock(), 0)
			mf.provider.Script(testTenant, states(tc.steps...)...)

			s, release := mf.manager.Acquire(testUser)
			defer release()
			waitDone(t, s)

			require.Equal(t, tc.want, mf.settler.Calls())
			require.Equal(t, 1, mf.journal.Len())
		})
	}
}

func TestManagerSubscribersSeeTerminalSnapshot(t *testing.T) {
	mf := newManagerFixture(t, newManualClock(), 0)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete, connectorsservice.SetupConnected)...)

	s, release := mf.manager.Acquire(testUser)
	defer release()
	ch, cancel := s.Subscribe()
	defer cancel()

	require.Eventually(t, func() bool { return mf.clock.Pending() == 1 }, time.Second, time.Millisecond)
	mf.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return mf.clock.Pending() == 1 && s.Terminal() }, time.Second, time.Millisecond)
	mf.clock.Advance(3 * time.Second)

	var last Snapshot
	redirects := 0
	for snap := range ch {
		last = snap
		if snap.Redirect != "" {
			redirects++
		}
	}
	require.Equal(t, StateConnected, last.State)
	require.Equal(t, "/dashboard", last.Redirect)
	require.Equal(t, 1, redirects)

	// A reconnecting reader gets the connected state without a second navigation.
	waitDone(t, s)
	again, cancelAgain := s.Subscribe()
	defer cancelAgain()
	snap, open := <-again
	require.True(t, open)
	require.Equal(t, StateConnected, snap.State)
	require.Empty(t, snap.Redirect)
	_, open = <-again
	require.False(t, open)
}

func TestManagerTouchLeaseExpires(t *testing.T) {
	mf := newManagerFixture(t, newManualClock(), 20*time.Millisecond)
	mf.provider.Script(testTenant, states(connectorsservice.SetupIncomplete)...)

	s := mf.manager.Touch(testUser)
	require.Same(t, s, mf.manager.Touch(testUser))
	waitDone(t, s)

	_, terminal := s.Outcome()
	require.False(t, terminal)
	_, ok := mf.manager.Lookup(testUser)
	require.False(t, ok)
}

func TestManagerCloseStopsPollers(t *testing.T) {
	f := newFixture(newManualClock())
	f.provider.Script(testTenant, states(connectorsservice.SetupIncomplete)...)
	m := NewManager(ManagerConfig{Poller: f.poller(testPolicy())})

	s, _ := m.Acquire(testUser)
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	m.Close()
	waitDone(t, s)

	_, err := m.Latest(context.Background(), testUser)
	require.ErrorIs(t, err, ErrNoOutcome)
}

func TestNewManagerPanicsWithoutPoller(t *testing.T) {
	require.Panics(t, func() { NewManager(ManagerConfig{}) })
}
