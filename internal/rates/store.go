package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carepay/internal/common/database"
)

// PostgresPlanStore implements PlanStore using PostgreSQL.
type PostgresPlanStore struct {
	db *database.DB
}

// NewPostgresPlanStore creates a new PostgreSQL plan store.
func NewPostgresPlanStore(db *database.DB) *PostgresPlanStore {
	return &PostgresPlanStore{db: db}
}

// ActivePlan returns the plan record active for the entity at the instant.
func (s *PostgresPlanStore) ActivePlan(ctx context.Context, entityID string, asOf time.Time) (*PlanRecord, error) {
	query := `
		SELECT id, entity_id, plan, started_at, ended_at, created_at
		FROM billing_plans
		WHERE entity_id = $1
		  AND started_at <= $2
		  AND (ended_at IS NULL OR ended_at > $2)
		ORDER BY started_at DESC
		LIMIT 1
	`

	row := s.db.QueryRow(ctx, query, entityID, asOf)
	record, err := scanPlanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: entity=%s as_of=%s", ErrNoActivePlan, entityID, asOf.Format(time.RFC3339))
		}
		return nil, err
	}
	return record, nil
}

// Enroll closes the entity's open plan record at the new record's start and
// inserts the new record, atomically.
func (s *PostgresPlanStore) Enroll(ctx context.Context, record *PlanRecord) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE billing_plans
			SET ended_at = $2
			WHERE entity_id = $1 AND ended_at IS NULL AND started_at < $2
		`, record.EntityID, record.StartedAt)
		if err != nil {
			return fmt.Errorf("closing current plan: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO billing_plans (id, entity_id, plan, started_at, ended_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, record.ID, record.EntityID, record.Plan, record.StartedAt, record.EndedAt, record.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting plan record: %w", err)
		}
		return nil
	})
}

// History lists an entity's plan records, newest first.
func (s *PostgresPlanStore) History(ctx context.Context, entityID string, limit int) ([]*PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, entity_id, plan, started_at, ended_at, created_at
		FROM billing_plans
		WHERE entity_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PlanRecord
	for rows.Next() {
		record, err := scanPlanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanPlanRecord(row pgx.Row) (*PlanRecord, error) {
	var r PlanRecord
	err := row.Scan(&r.ID, &r.EntityID, &r.Plan, &r.StartedAt, &r.EndedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
