package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/api/v1/", Token: "tok"})
	require.NoError(t, err)
	return c
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Token: "tok"})
	require.ErrorContains(t, err, "api url is required")

	_, err = New(Options{BaseURL: "ftp://example.com", Token: "tok"})
	require.ErrorContains(t, err, "http(s)")

	_, err = New(Options{BaseURL: "http://localhost:8080/api/v1"})
	require.ErrorContains(t, err, "token is required")
}

func TestSubmitCompany(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/onboarding/company", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"company_name":"Acme AB"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redirect_uri":"https://connect.example.com/card"}`))
	}))

	out, err := c.SubmitCompany(context.Background(), "Acme AB")
	require.NoError(t, err)
	require.Equal(t, "https://connect.example.com/card", out.RedirectURI)
}

func TestProblemResponses(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/onboarding":
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"type":"about:blank","title":"Conflict","status":409,"detail":"restart first"}`))
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))

	_, err := c.Onboarding(context.Background())
	require.True(t, IsStatus(err, http.StatusConflict))
	require.ErrorContains(t, err, "restart first")

	_, err = c.Outcome(context.Background())
	require.True(t, IsStatus(err, http.StatusBadGateway))
	require.ErrorContains(t, err, "Bad Gateway")
}

func writeSnapshot(w http.ResponseWriter, id int, event string, snap Snapshot) {
	data, _ := json.Marshal(snap)
	_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	w.(http.Flusher).Flush()
}

func TestWatchUntilRedirect(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, ": keep-alive\n\n")
		writeSnapshot(w, 1, "snapshot", Snapshot{State: "checking", Attempts: 1})
		writeSnapshot(w, 2, "snapshot", Snapshot{State: "connected", Attempts: 2})
		writeSnapshot(w, 3, "redirect", Snapshot{State: "connected", Attempts: 2, Redirect: "/dashboard"})
	}))

	var names []string
	final, err := c.Watch(context.Background(), WatchOptions{}, func(e Event) { names = append(names, e.Name) })
	require.NoError(t, err)
	require.Equal(t, "/dashboard", final.Redirect)
	require.Equal(t, []string{"snapshot", "snapshot", "redirect"}, names)
}

func TestWatchReconnectsWithLastEventID(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if calls.Add(1) == 1 {
			writeSnapshot(w, 7, "snapshot", Snapshot{State: "checking", Attempts: 1})
			return
		}
		require.Equal(t, "7", r.Header.Get("Last-Event-ID"))
		writeSnapshot(w, 8, "snapshot", Snapshot{State: "failed", Reason: "connection_failed"})
	}))

	final, err := c.Watch(context.Background(), WatchOptions{Reconnects: 2, BackOff: &backoff.ZeroBackOff{}}, nil)
	require.NoError(t, err)
	require.Equal(t, "failed", final.State)
	require.EqualValues(t, 2, calls.Load())
}

func TestWatchGivesUpWithoutReconnects(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSnapshot(w, 1, "snapshot", Snapshot{State: "checking"})
	}))

	_, err := c.Watch(context.Background(), WatchOptions{BackOff: &backoff.ZeroBackOff{}}, nil)
	require.ErrorIs(t, err, ErrStreamEnded)
}

func TestWatchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"title":"Not Found","status":404,"detail":"tenant not found"}`))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Watch(ctx, WatchOptions{Reconnects: 5, BackOff: &backoff.ZeroBackOff{}}, nil)
	require.True(t, IsStatus(err, http.StatusNotFound))
	require.EqualValues(t, 1, calls.Load())
}
