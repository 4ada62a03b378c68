package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"carepay/internal/common/database"
)

// PostgresStore implements Store using PostgreSQL. The table is insert-only:
// there is no update statement in this file on purpose.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL commission record store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	id, transaction_id, kind, original_id,
	gross_minor, currency, payer_id, expert_id, org_id,
	tier_snapshot, plan_snapshot, recurring_fee_snapshot,
	platform_rate_bps, platform_minor, clinic_rate_bps, clinic_minor, expert_minor,
	validation_outcome, rejection_reason,
	transfer_status, transfer_ref, transfer_attempts,
	transfer_error_code, transfer_error_message, transfer_completed_at,
	reversal_reason, calculated_at, created_at
`

// Create inserts a record. A duplicate (transaction_id, kind) pair hits
// the unique index and surfaces as database.ErrAlreadyExists so callers
// can fall back to the existing row.
func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	query := `
		INSERT INTO commission_records (` + recordColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)
	`

	_, err := s.db.Exec(ctx, query,
		r.ID, r.TransactionID, r.Kind, r.OriginalID,
		r.GrossMinor, r.Currency, r.PayerID, r.ExpertID, r.OrgID,
		r.TierSnapshot, r.PlanSnapshot, r.RecurringFeeSnapshot,
		r.PlatformRateBps, r.PlatformMinor, r.ClinicRateBps, r.ClinicMinor, r.ExpertMinor,
		r.ValidationOutcome, nullStr(r.RejectionReason),
		r.TransferStatus, nullStr(r.TransferRef), r.TransferAttempts,
		nullStr(r.TransferErrorCode), nullStr(r.TransferErrorMessage), r.TransferCompletedAt,
		nullStr(r.ReversalReason), r.CalculatedAt, r.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("commission record for transaction %s: %w", r.TransactionID, database.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// GetByTransactionID retrieves the split record for a transaction.
func (s *PostgresStore) GetByTransactionID(ctx context.Context, transactionID string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM commission_records
		WHERE transaction_id = $1 AND kind = 'split'
	`
	return s.scanOne(s.db.QueryRow(ctx, query, transactionID))
}

// GetByID retrieves a record by its own ID.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM commission_records
		WHERE id = $1
	`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

// GetReversal retrieves the reversal record referencing an original, if any.
func (s *PostgresStore) GetReversal(ctx context.Context, originalID string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM commission_records
		WHERE original_id = $1 AND kind = 'reversal'
	`
	return s.scanOne(s.db.QueryRow(ctx, query, originalID))
}

// ListByExpert lists an expert's records, newest first.
func (s *PostgresStore) ListByExpert(ctx context.Context, expertID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + recordColumns + `
		FROM commission_records
		WHERE expert_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, expertID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Record, error) {
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var rejectionReason, transferRef, transferErrCode, transferErrMsg, reversalReason *string

	err := row.Scan(
		&r.ID, &r.TransactionID, &r.Kind, &r.OriginalID,
		&r.GrossMinor, &r.Currency, &r.PayerID, &r.ExpertID, &r.OrgID,
		&r.TierSnapshot, &r.PlanSnapshot, &r.RecurringFeeSnapshot,
		&r.PlatformRateBps, &r.PlatformMinor, &r.ClinicRateBps, &r.ClinicMinor, &r.ExpertMinor,
		&r.ValidationOutcome, &rejectionReason,
		&r.TransferStatus, &transferRef, &r.TransferAttempts,
		&transferErrCode, &transferErrMsg, &r.TransferCompletedAt,
		&reversalReason, &r.CalculatedAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rejectionReason != nil {
		r.RejectionReason = *rejectionReason
	}
	if transferRef != nil {
		r.TransferRef = *transferRef
	}
	if transferErrCode != nil {
		r.TransferErrorCode = *transferErrCode
	}
	if transferErrMsg != nil {
		r.TransferErrorMessage = *transferErrMsg
	}
	if reversalReason != nil {
		r.ReversalReason = *reversalReason
	}

	return &r, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
