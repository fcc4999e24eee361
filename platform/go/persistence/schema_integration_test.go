package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcims/arcims-web/platform/go/persistence"
	"github.com/arcims/arcims-web/platform/go/persistence/pgtest"
)

func TestApplySchemaIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	pool := pgtest.NewPool(t)
	ctx := context.Background()
	require.NoError(t, persistence.ApplySchema(ctx, pool))

	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'activation_outcomes')`).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists)
}
