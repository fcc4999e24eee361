package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcims/arcims-web/platform/go/requesttrace"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Token: "svc-token", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestGetTenantByUserDecodesRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/tenants/user_2abc", r.URL.Path)
		require.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tenant_id": "5b7c2d4e-0000-4000-8000-000000000001",
			"company_name": "Acme AB",
			"clerk_user_id": "user_2abc",
			"email": "owner@acme.se",
			"snowflake_role": "TENANT_5B7C2D4E",
			"onboarding_state": "connecting",
			"created_at": "2025-01-02T10:11:12.123456",
			"data_ready": false,
			"fivetran_connector_id": "conn_1"
		}`))
	})

	tenant, err := c.GetTenantByUser(context.Background(), "user_2abc")
	require.NoError(t, err)
	require.Equal(t, "5b7c2d4e-0000-4000-8000-000000000001", tenant.TenantID)
	require.NotNil(t, tenant.CompanyName)
	require.Equal(t, "Acme AB", *tenant.CompanyName)
	require.Equal(t, "connecting", tenant.OnboardingState)
	require.NotNil(t, tenant.FivetranConnectorID)
	require.Nil(t, tenant.FivetranGroupID)
}

func TestGetTenantByUserNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Tenant not found"}`))
	})

	_, err := c.GetTenantByUser(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, IsTransient(err))

	var be *Error
	require.True(t, errors.As(err, &be))
	require.Equal(t, http.StatusNotFound, be.StatusCode)
	require.Equal(t, "Tenant not found", be.Detail)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusBadRequest, KindPermanent},
		{http.StatusUnauthorized, KindPermanent},
		{http.StatusNotFound, KindNotFound},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
	}

	for _, tc := range cases {
		status := tc.status
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.ConnectorStatus(context.Background(), "tenant-1")
		require.Error(t, err)
		require.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.ConnectorStatus(context.Background(), "tenant-1")
	require.ErrorIs(t, err, ErrTransient)
}

func TestUndecodableBodyIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := c.ConnectorStatus(context.Background(), "tenant-1")
	require.ErrorIs(t, err, ErrPermanent)
}

func TestUpdateCompanyNameEncodesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/tenants/t-1/company", r.URL.Path)
		require.Equal(t, "Åkesson & Co AB", r.URL.Query().Get("company_name"))
		_, _ = w.Write([]byte(`{"tenant_id":"t-1","company_name":"Åkesson & Co AB","onboarding_state":"pending"}`))
	})

	tenant, err := c.UpdateCompanyName(context.Background(), "t-1", "Åkesson & Co AB")
	require.NoError(t, err)
	require.Equal(t, "Åkesson & Co AB", *tenant.CompanyName)
}

func TestUpdateOnboardingState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenants/t-1/state", r.URL.Path)
		require.Equal(t, "pending", r.URL.Query().Get("state"))
		_, _ = w.Write([]byte(`{"tenant_id":"t-1","onboarding_state":"pending"}`))
	})

	tenant, err := c.UpdateOnboardingState(context.Background(), "t-1", "pending")
	require.NoError(t, err)
	require.Equal(t, "pending", tenant.OnboardingState)
}

func TestSetupConnectorAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/fivetran/setup/t-1":
			require.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"group_id":"g1","connector_id":"c1","connect_card_uri":"https://fivetran.com/connect-card/setup?token=x","service":"fortnox"}`))
		case "/api/fivetran/status/t-1":
			_, _ = w.Write([]byte(`{"connector_id":"c1","setup_state":"connected","sync_state":"scheduled","is_historical_sync":true,"succeeded_at":null,"failed_at":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	setup, err := c.SetupConnector(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, "c1", setup.ConnectorID)
	require.Equal(t, "fortnox", setup.Service)

	status, err := c.ConnectorStatus(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, "connected", status.SetupState)
	require.True(t, status.IsHistoricalSync)
	require.Nil(t, status.SucceededAt)
}

func TestTraceHeadersAreForwarded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "run-1", r.Header.Get(requesttrace.HeaderRequestID))
		require.Equal(t, "poller", r.Header.Get(requesttrace.HeaderActor))
		require.Equal(t, "user_1", r.Header.Get(requesttrace.HeaderUser))
		_, _ = w.Write([]byte(`{"setup_state":"incomplete"}`))
	})

	ctx := requesttrace.IntoContext(context.Background(), requesttrace.Poller("user_1", "run-1"))
	_, err := c.ConnectorStatus(ctx, "t1")
	require.NoError(t, err)
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tenants/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetTenantByUser(context.Background(), "a/b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestObserverSeesEveryCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL: srv.URL,
		Observer: func(op string, status int, elapsed time.Duration) {
			require.Equal(t, "connector_status", op)
			require.Equal(t, http.StatusServiceUnavailable, status)
			calls.Add(1)
		},
	})
	require.NoError(t, err)

	_, _ = c.ConnectorStatus(context.Background(), "t")
	_, _ = c.ConnectorStatus(context.Background(), "t")
	require.Equal(t, int32(2), calls.Load())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"setup_state":"incomplete"}`))
	})
	c2, err := New(Config{BaseURL: c.baseURL.String(), RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = c2.ConnectorStatus(context.Background(), "t")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c2.ConnectorStatus(ctx, "t")
	require.ErrorIs(t, err, ErrTransient)
}

func TestParseTimestamp(t *testing.T) {
	require.True(t, ParseTimestamp("").IsZero())
	require.True(t, ParseTimestamp("yesterday").IsZero())
	require.Equal(t, 2024, ParseTimestamp("2024-06-01T00:00:00Z").Year())
	require.Equal(t, time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC), ParseTimestamp("2024-07-01 10:00:00"))
	require.Equal(t, time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC), ParseTimestamp("2024-07-01T10:00:00+02:00"))
}
