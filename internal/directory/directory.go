// Package directory provides read-only lookups of the parties a payment
// is split between: the expert receiving the service fee and, when the
// booking happened inside an organization, the clinic's fee settings.
//
// Tier assignment and organization membership are managed elsewhere; this
// package only reads the values current at transaction time so they can be
// snapshotted into the commission record.
package directory

import (
	"context"
	"time"

	"carepay/internal/rates"
)

// Expert is the service provider receiving the net share of a payment.
type Expert struct {
	ID              string     `json:"id"`
	Tier            rates.Tier `json:"tier"`
	BillingEntityID string     `json:"billing_entity_id"`
	PayoutAccountID string     `json:"payout_account_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ClinicSettings holds an organization's marketing-fee configuration.
type ClinicSettings struct {
	OrgID           string    `json:"org_id"`
	FeeRateBps      int64     `json:"fee_rate_bps"`
	PayoutAccountID string    `json:"payout_account_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ExpertStore reads expert records.
type ExpertStore interface {
	GetExpert(ctx context.Context, expertID string) (*Expert, error)
}

// ClinicStore reads clinic settings.
type ClinicStore interface {
	GetClinicSettings(ctx context.Context, orgID string) (*ClinicSettings, error)
}

// Store combines both lookups.
type Store interface {
	ExpertStore
	ClinicStore
}
