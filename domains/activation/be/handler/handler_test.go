package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	activationrepo "github.com/arcims/arcims-web/domains/activation/be/repo"
	"github.com/arcims/arcims-web/domains/activation/be/service"
	connectorsrepo "github.com/arcims/arcims-web/domains/connectors/be/repo"
	connectorsservice "github.com/arcims/arcims-web/domains/connectors/be/service"
	tenantsrepo "github.com/arcims/arcims-web/domains/tenants/be/repo"
	tenantsservice "github.com/arcims/arcims-web/domains/tenants/be/service"
	platformauth "github.com/arcims/arcims-web/platform/go/auth"
)

type testEnv struct {
	server   *httptest.Server
	provider *connectorsrepo.ScriptedProvider
}

func newTestEnv(t *testing.T, steps ...connectorsservice.SetupState) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	tenants := tenantsrepo.NewMemoryRepository()
	connector := "conn_a"
	tenants.Put(tenantsservice.Tenant{ID: "tenant-1", UserID: "user_1", State: tenantsservice.StateConnecting, ConnectorID: &connector})

	provider := connectorsrepo.NewScriptedProvider()
	provider.SetSetup("tenant-1", connectorsservice.Setup{ConnectorID: connector})
	script := make([]connectorsrepo.Step, len(steps))
	for i, s := range steps {
		script[i] = connectorsrepo.Step{State: s}
	}
	provider.Script("tenant-1", script...)

	policy := service.DefaultPolicy()
	policy.PollInterval = 5 * time.Millisecond
	policy.RedirectDelay = 5 * time.Millisecond
	policy.RetryInitial = time.Millisecond
	policy.MaxAttempts = 20

	manager := service.NewManager(service.ManagerConfig{
		Poller: service.NewPoller(service.PollerConfig{
			Tenants:    tenants,
			Connectors: provider,
			Policy:     policy,
			Logger:     logger,
		}),
		Journal: activationrepo.NewMemoryJournal(),
		Logger:  logger,
	})
	t.Cleanup(manager.Close)

	h := New(manager, logger, WithHeartbeat(time.Hour), WithReconnectDelay(2*time.Second))
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := r.Header.Get("X-Test-User"); user != "" {
				r = r.WithContext(platformauth.WithUser(r.Context(), &platformauth.UserCredentials{Id: user}))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.Routes(router)
	h.StreamRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, provider: provider}
}

func (e *testEnv) get(t *testing.T, path, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

type sseEvent struct {
	ID    string
	Event string
	Data  snapshotDTO
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.Data))
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestActivationRequiresUser(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupIncomplete)

	for _, path := range []string{"/activation", "/activation/events", "/activation/outcome"} {
		resp := env.get(t, path, "")
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	}
}

func TestActivationEventsStreamUntilRedirect(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupIncomplete, connectorsservice.SetupIncomplete, connectorsservice.SetupConnected)

	resp := env.get(t, "/activation/events", "user_1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.NotEmpty(t, events)
	require.Equal(t, "1", events[0].ID)

	last := events[len(events)-1]
	require.Equal(t, "redirect", last.Event)
	require.Equal(t, "connected", last.Data.State)
	require.Equal(t, "/dashboard", last.Data.Redirect)
	require.Equal(t, service.MessageConnected, last.Data.Message)

	redirects := 0
	for _, e := range events {
		if e.Event == "redirect" {
			redirects++
		}
	}
	require.Equal(t, 1, redirects)

	outcome := env.get(t, "/activation/outcome", "user_1")
	defer outcome.Body.Close()
	require.Equal(t, http.StatusOK, outcome.StatusCode)
	var got outcomeDTO
	require.NoError(t, json.NewDecoder(outcome.Body).Decode(&got))
	require.Equal(t, "connected", got.State)
	require.Equal(t, 3, got.Attempts)
	require.True(t, got.Navigated)
	require.Equal(t, "conn_a", got.ConnectorID)
}

func TestActivationEventsReplayTerminalSnapshot(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupBroken)

	first := readEvents(t, env.get(t, "/activation/events", "user_1"))
	require.Equal(t, "failed", first[len(first)-1].Data.State)
	require.Equal(t, "connection_failed", first[len(first)-1].Data.Reason)

	second := readEvents(t, env.get(t, "/activation/events", "user_1"))
	require.Len(t, second, 1)
	require.Equal(t, "snapshot", second[0].Event)
	require.Equal(t, service.MessageConnectionFailed, second[0].Data.Message)
	require.Equal(t, 1, env.provider.Calls("tenant-1"))
}

func TestActivationEventsRedirectOnce(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupIncomplete, connectorsservice.SetupConnected)

	countRedirects := func(events []sseEvent) int {
		n := 0
		for _, e := range events {
			if e.Event == "redirect" {
				n++
			}
		}
		return n
	}

	first := readEvents(t, env.get(t, "/activation/events", "user_1"))
	require.Equal(t, 1, countRedirects(first))
	require.Equal(t, "/dashboard", first[len(first)-1].Data.Redirect)

	// A reconnecting EventSource sees the connected state but is not sent away again.
	second := readEvents(t, env.get(t, "/activation/events", "user_1"))
	require.Len(t, second, 1)
	require.Equal(t, "snapshot", second[0].Event)
	require.Equal(t, "connected", second[0].Data.State)
	require.Zero(t, countRedirects(second))
	require.Equal(t, 2, env.provider.Calls("tenant-1"))
}

func TestActivationEventsUnknownTenant(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupConnected)

	events := readEvents(t, env.get(t, "/activation/events", "user_without_tenant"))
	last := events[len(events)-1]
	require.Equal(t, "failed", last.Data.State)
	require.Equal(t, service.MessageTenantNotFound, last.Data.Message)
}

func TestActivationGetReachesConnected(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupIncomplete, connectorsservice.SetupConnected)

	require.Eventually(t, func() bool {
		resp := env.get(t, "/activation", "user_1")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var snap snapshotDTO
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.State == "connected" && snap.Redirect == "/dashboard"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestActivationOutcomeNotFound(t *testing.T) {
	env := newTestEnv(t, connectorsservice.SetupIncomplete)

	resp := env.get(t, "/activation/outcome", "user_1")
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestNewPanicsWithoutDependencies(t *testing.T) {
	require.Panics(t, func() { New(nil, zaptest.NewLogger(t)) })
}
