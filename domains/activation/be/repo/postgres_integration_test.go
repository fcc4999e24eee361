package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arcims/arcims-web/domains/activation/be/repo"
	"github.com/arcims/arcims-web/domains/activation/be/service"
	"github.com/arcims/arcims-web/platform/go/persistence/pgtest"
)

func TestPostgresJournal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	journal := repo.NewPostgresJournal(pgtest.NewPool(t))

	_, err := journal.Latest(ctx, "user_1")
	require.ErrorIs(t, err, service.ErrNoOutcome)

	start := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	failed := service.Outcome{
		ID:         uuid.New(),
		UserID:     "user_1",
		TenantID:   "tenant-1",
		State:      service.StateFailed,
		Reason:     service.ReasonTimeout,
		Message:    service.MessageTimeout,
		Attempts:   150,
		StartedAt:  start,
		FinishedAt: start.Add(5 * time.Minute),
	}
	connected := service.Outcome{
		ID:          uuid.New(),
		UserID:      "user_1",
		TenantID:    "tenant-1",
		ConnectorID: "conn_a",
		State:       service.StateConnected,
		Message:     service.MessageConnected,
		Attempts:    4,
		Navigated:   true,
		StartedAt:   start.Add(time.Hour),
		FinishedAt:  start.Add(time.Hour + 8*time.Second),
	}

	require.NoError(t, journal.Record(ctx, connected))
	require.NoError(t, journal.Record(ctx, failed))
	require.NoError(t, journal.Record(ctx, connected))

	got, err := journal.Latest(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, connected.ID, got.ID)
	require.Equal(t, service.StateConnected, got.State)
	require.Equal(t, "conn_a", got.ConnectorID)
	require.True(t, got.Navigated)
	require.Equal(t, 4, got.Attempts)
	require.True(t, connected.FinishedAt.Equal(got.FinishedAt))

	_, err = journal.Latest(ctx, "user_2")
	require.ErrorIs(t, err, service.ErrNoOutcome)
}
