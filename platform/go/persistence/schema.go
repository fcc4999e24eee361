package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/arcims/arcims-web/database"
)

// ApplySchema executes the embedded DDL statements in order. Every statement is idempotent
// so it runs on each startup.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range splitStatements(sqlassets.ActivationOutcomesSQL) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema ddl: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	raw := strings.Split(script, ";")
	statements := make([]string, 0, len(raw))
	for _, r := range raw {
		if stmt := strings.TrimSpace(r); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
