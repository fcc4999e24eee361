package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcims/arcims-web/domains/activation/be/service"
)

// OutcomesTable stores one row per terminal activation run.
const OutcomesTable = "activation_outcomes"

// ErrInvalidOutcome rejects outcomes that cannot be journaled.
var ErrInvalidOutcome = errors.New("invalid activation outcome")

// PostgresJournal persists outcomes in Postgres. The table is created by persistence.ApplySchema.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal constructs a PostgresJournal with required dependencies.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	if pool == nil {
		panic("activation journal: pool is required")
	}
	return &PostgresJournal{pool: pool}
}

// Record inserts the outcome; a repeated outcome id is ignored.
func (j *PostgresJournal) Record(ctx context.Context, o service.Outcome) error {
	if err := validateOutcome(o); err != nil {
		return err
	}
	_, err := j.pool.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (outcome_id, user_id, tenant_id, connector_id, state, reason, message, attempts, navigated, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (outcome_id) DO NOTHING
    `, OutcomesTable),
		o.ID,
		o.UserID,
		o.TenantID,
		o.ConnectorID,
		string(o.State),
		string(o.Reason),
		o.Message,
		o.Attempts,
		o.Navigated,
		o.StartedAt.UTC(),
		o.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activation outcome: %w", err)
	}
	return nil
}

// Latest returns the user's most recently finished outcome.
func (j *PostgresJournal) Latest(ctx context.Context, userID string) (service.Outcome, error) {
	row := j.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT outcome_id, user_id, tenant_id, connector_id, state, reason, message, attempts, navigated, started_at, finished_at
        FROM %s
        WHERE user_id = $1
        ORDER BY finished_at DESC
        LIMIT 1
    `, OutcomesTable), userID)

	var (
		o      service.Outcome
		id     uuid.UUID
		state  string
		reason string
	)
	if err := row.Scan(&id, &o.UserID, &o.TenantID, &o.ConnectorID, &state, &reason, &o.Message, &o.Attempts, &o.Navigated, &o.StartedAt, &o.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.Outcome{}, service.ErrNoOutcome
		}
		return service.Outcome{}, fmt.Errorf("select activation outcome: %w", err)
	}
	o.ID = id
	o.State = service.State(state)
	o.Reason = service.Reason(reason)
	return o, nil
}

func validateOutcome(o service.Outcome) error {
	switch {
	case o.ID == uuid.Nil:
		return fmt.Errorf("%w: id is required", ErrInvalidOutcome)
	case strings.TrimSpace(o.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidOutcome)
	case !o.Terminal():
		return fmt.Errorf("%w: state %q is not terminal", ErrInvalidOutcome, o.State)
	}
	return nil
}

var _ service.Journal = (*PostgresJournal)(nil)
