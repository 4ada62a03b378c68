package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"carepay/internal/common/database"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL directory store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetExpert retrieves an expert by ID.
func (s *PostgresStore) GetExpert(ctx context.Context, expertID string) (*Expert, error) {
	query := `
		SELECT id, tier, billing_entity_id, payout_account_id, created_at, updated_at
		FROM experts
		WHERE id = $1
	`

	var e Expert
	err := s.db.QueryRow(ctx, query, expertID).Scan(
		&e.ID, &e.Tier, &e.BillingEntityID, &e.PayoutAccountID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("expert %s: %w", expertID, database.ErrNotFound)
		}
		return nil, err
	}
	return &e, nil
}

// GetClinicSettings retrieves an organization's fee settings.
func (s *PostgresStore) GetClinicSettings(ctx context.Context, orgID string) (*ClinicSettings, error) {
	query := `
		SELECT org_id, fee_rate_bps, payout_account_id, created_at, updated_at
		FROM clinic_settings
		WHERE org_id = $1
	`

	var c ClinicSettings
	err := s.db.QueryRow(ctx, query, orgID).Scan(
		&c.OrgID, &c.FeeRateBps, &c.PayoutAccountID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("clinic settings %s: %w", orgID, database.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}
