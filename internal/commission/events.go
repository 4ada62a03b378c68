package commission

import (
	"time"

	"carepay/internal/common/money"
)

// NATS subjects for commission events
const (
	SubjectPaymentConfirmed       = "payments.confirmed"
	SubjectCommissionRecorded     = "commission.recorded"
	SubjectCommissionRejected     = "commission.rejected"
	SubjectCommissionTransferFail = "commission.transfer_failed"
	SubjectCommissionReversed     = "commission.reversed"
)

// Event types carried in envelopes
const (
	EventPaymentConfirmed   = "payment.confirmed"
	EventCommissionRecorded = "commission.recorded"
	EventCommissionRejected = "commission.rejected"
	EventTransferFailed     = "commission.transfer_failed"
	EventCommissionReversed = "commission.reversed"
)

// PaymentConfirmed is the inbound trigger payload, delivered at least once
// by the upstream payment flow (webhook or event bus). Authenticity is
// verified upstream; only shape and numeric ranges are checked here.
type PaymentConfirmed struct {
	TransactionID string     `json:"transaction_id" validate:"required"`
	ChargeRef     string     `json:"charge_ref" validate:"required"`
	GrossMinor    int64      `json:"gross_minor" validate:"gte=0"`
	Currency      string     `json:"currency" validate:"required,len=3"`
	PayerID       string     `json:"payer_id" validate:"required"`
	ExpertID      string     `json:"expert_id" validate:"required"`
	OrgID         *string    `json:"org_id,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// CommissionRecordedEvent is published for every persisted record,
// whatever the outcome.
type CommissionRecordedEvent struct {
	RecordID          string      `json:"record_id"`
	TransactionID     string      `json:"transaction_id"`
	Kind              Kind        `json:"kind"`
	Gross             money.Money `json:"gross"`
	PlatformMinor     int64       `json:"platform_minor"`
	ClinicMinor       int64       `json:"clinic_minor"`
	ExpertMinor       int64       `json:"expert_minor"`
	ValidationOutcome string      `json:"validation_outcome"`
	RejectionReason   string      `json:"rejection_reason,omitempty"`
	TransferStatus    string      `json:"transfer_status"`
	TransferRef       string      `json:"transfer_ref,omitempty"`
}

// CommissionReversedEvent is published when a compensating record is
// written for a refund or dispute.
type CommissionReversedEvent struct {
	RecordID      string `json:"record_id"`
	OriginalID    string `json:"original_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

func recordedEvent(r *Record) CommissionRecordedEvent {
	return CommissionRecordedEvent{
		RecordID:          r.ID,
		TransactionID:     r.TransactionID,
		Kind:              r.Kind,
		Gross:             money.New(r.GrossMinor, r.Currency),
		PlatformMinor:     r.PlatformMinor,
		ClinicMinor:       r.ClinicMinor,
		ExpertMinor:       r.ExpertMinor,
		ValidationOutcome: string(r.ValidationOutcome),
		RejectionReason:   r.RejectionReason,
		TransferStatus:    r.TransferStatus,
		TransferRef:       r.TransferRef,
	}
}
