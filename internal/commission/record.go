// Package commission runs the per-transaction revenue-split pipeline:
// resolve rate, compute split, validate invariants, execute the transfer,
// and persist an immutable commission record with the actual outcome.
package commission

import (
	"errors"
	"time"

	"carepay/internal/common/money"
	"carepay/internal/rates"
	"carepay/internal/split"
	"carepay/internal/transfer"
)

// Kind distinguishes an original split record from a compensating reversal.
type Kind string

const (
	KindSplit    Kind = "split"
	KindReversal Kind = "reversal"
)

// TransferNotAttempted marks records where no transfer instruction was
// issued (rejected splits and reversals).
const TransferNotAttempted = "not_attempted"

// Record is the durable, append-only output of one computed split for one
// transaction. The tier, plan and rates are frozen copies taken at
// calculation time; a later tier or configuration change never alters what
// is stored here. Once written a record is immutable; corrections are new
// records of KindReversal referencing the original.
type Record struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transaction_id"`
	Kind          Kind    `json:"kind"`
	OriginalID    *string `json:"original_id,omitempty"`

	GrossMinor int64          `json:"gross_minor"`
	Currency   money.Currency `json:"currency"`
	PayerID    string         `json:"payer_id"`
	ExpertID   string         `json:"expert_id"`
	OrgID      *string        `json:"org_id,omitempty"`

	// Snapshot of the rate resolution at calculation time.
	TierSnapshot         rates.Tier `json:"tier_snapshot"`
	PlanSnapshot         rates.Plan `json:"plan_snapshot"`
	RecurringFeeSnapshot int64      `json:"recurring_fee_snapshot"`

	PlatformRateBps int64  `json:"platform_rate_bps"`
	PlatformMinor   int64  `json:"platform_minor"`
	ClinicRateBps   *int64 `json:"clinic_rate_bps,omitempty"`
	ClinicMinor     int64  `json:"clinic_minor"`
	ExpertMinor     int64  `json:"expert_minor"`

	ValidationOutcome split.Outcome `json:"validation_outcome"`
	RejectionReason   string        `json:"rejection_reason,omitempty"`

	TransferStatus       string     `json:"transfer_status"`
	TransferRef          string     `json:"transfer_ref,omitempty"`
	TransferAttempts     int        `json:"transfer_attempts"`
	TransferErrorCode    string     `json:"transfer_error_code,omitempty"`
	TransferErrorMessage string     `json:"transfer_error_message,omitempty"`
	TransferCompletedAt  *time.Time `json:"transfer_completed_at,omitempty"`

	ReversalReason string `json:"reversal_reason,omitempty"`

	CalculatedAt time.Time `json:"calculated_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord assembles a split record from the pipeline's pieces.
func NewRecord(id, transactionID string, s split.Split, currency money.Currency, payerID, expertID string, orgID *string, entry rates.Entry, vr split.ValidationResult, outcome transfer.Outcome, calculatedAt time.Time) (*Record, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if transactionID == "" {
		return nil, errors.New("transaction_id is required")
	}
	if expertID == "" {
		return nil, errors.New("expert_id is required")
	}

	r := &Record{
		ID:                   id,
		TransactionID:        transactionID,
		Kind:                 KindSplit,
		GrossMinor:           s.GrossMinor,
		Currency:             currency,
		PayerID:              payerID,
		ExpertID:             expertID,
		OrgID:                orgID,
		TierSnapshot:         entry.Tier,
		PlanSnapshot:         entry.Plan,
		RecurringFeeSnapshot: entry.RecurringFeeMinor,
		PlatformRateBps:      s.PlatformBps,
		PlatformMinor:        s.PlatformMinor,
		ClinicRateBps:        s.ClinicBps,
		ClinicMinor:          s.ClinicMinor,
		ExpertMinor:          s.ExpertMinor,
		ValidationOutcome:    vr.Outcome,
		RejectionReason:      vr.Reason,
		TransferStatus:       TransferNotAttempted,
		CalculatedAt:         calculatedAt,
		CreatedAt:            time.Now().UTC(),
	}

	if vr.Accepted() {
		r.TransferStatus = string(outcome.Status)
		r.TransferRef = outcome.ProviderRef
		r.TransferAttempts = outcome.Attempts
		r.TransferErrorCode = outcome.ErrorCode
		r.TransferErrorMessage = outcome.ErrorMessage
		r.TransferCompletedAt = outcome.CompletedAt
	}

	return r, nil
}

// NewReversal creates a compensating record for an existing split record.
// The original is never touched.
func NewReversal(id string, original *Record, reason string) (*Record, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if original == nil {
		return nil, errors.New("original record is required")
	}
	if original.Kind != KindSplit {
		return nil, errors.New("can only reverse split records")
	}
	if reason == "" {
		return nil, errors.New("reversal reason is required")
	}

	originalID := original.ID
	return &Record{
		ID:                   id,
		TransactionID:        original.TransactionID,
		Kind:                 KindReversal,
		OriginalID:           &originalID,
		GrossMinor:           original.GrossMinor,
		Currency:             original.Currency,
		PayerID:              original.PayerID,
		ExpertID:             original.ExpertID,
		OrgID:                original.OrgID,
		TierSnapshot:         original.TierSnapshot,
		PlanSnapshot:         original.PlanSnapshot,
		RecurringFeeSnapshot: original.RecurringFeeSnapshot,
		PlatformRateBps:      original.PlatformRateBps,
		PlatformMinor:        original.PlatformMinor,
		ClinicRateBps:        original.ClinicRateBps,
		ClinicMinor:          original.ClinicMinor,
		ExpertMinor:          original.ExpertMinor,
		ValidationOutcome:    original.ValidationOutcome,
		TransferStatus:       TransferNotAttempted,
		ReversalReason:       reason,
		CalculatedAt:         original.CalculatedAt,
		CreatedAt:            time.Now().UTC(),
	}, nil
}

// Split reconstructs the split value stored in the record.
func (r *Record) Split() split.Split {
	return split.Split{
		GrossMinor:     r.GrossMinor,
		PlatformMinor:  r.PlatformMinor,
		ClinicMinor:    r.ClinicMinor,
		ExpertMinor:    r.ExpertMinor,
		PlatformBps:    r.PlatformRateBps,
		ClinicBps:      r.ClinicRateBps,
		HasClinicShare: r.ClinicRateBps != nil,
	}
}
