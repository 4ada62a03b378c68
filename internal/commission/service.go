package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"carepay/internal/common/database"
	"carepay/internal/common/events"
	"carepay/internal/common/middleware"
	"carepay/internal/common/money"
	"carepay/internal/directory"
	"carepay/internal/rates"
	"carepay/internal/split"
	"carepay/internal/transfer"
)

// Store persists commission records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	GetReversal(ctx context.Context, originalID string) (*Record, error)
	ListByExpert(ctx context.Context, expertID string, limit, offset int) ([]*Record, error)
}

// Executor moves funds for an accepted split.
type Executor interface {
	Execute(ctx context.Context, req *transfer.Request) transfer.Outcome
}

// Publisher publishes commission events.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Service runs the commission pipeline for confirmed payments.
type Service struct {
	records   Store
	directory directory.Store
	resolver  *rates.Resolver
	policy    split.Policy
	transfers Executor
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates a commission service.
func NewService(records Store, dir directory.Store, resolver *rates.Resolver, policy split.Policy, transfers Executor, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		records:   records,
		directory: dir,
		resolver:  resolver,
		policy:    policy,
		transfers: transfers,
		publisher: publisher,
		logger:    logger,
	}
}

// IdempotencyKey derives the stable transfer idempotency key for a
// transaction. Retried deliveries of the same payment event always map to
// the same key.
func IdempotencyKey(transactionID string) string {
	return "txn:" + transactionID
}

// Process runs the full pipeline for one confirmed payment:
// resolve -> compute -> validate -> transfer -> record.
//
// Duplicate delivery is a no-op: a transaction that already has a record
// returns that record unchanged and never reaches the processor again.
// A record is written for every non-duplicate invocation that passes the
// configuration and input stages, whatever the validation and transfer
// outcomes.
func (s *Service) Process(ctx context.Context, pc *PaymentConfirmed) (*Record, error) {
	if pc.GrossMinor < 0 {
		return nil, fmt.Errorf("%w: %d", split.ErrInvalidGrossAmount, pc.GrossMinor)
	}

	if existing, err := s.records.GetByTransactionID(ctx, pc.TransactionID); err == nil {
		s.logger.Info("duplicate payment event, returning existing record",
			"transaction_id", pc.TransactionID,
			"record_id", existing.ID,
		)
		return existing, nil
	} else if !database.IsNotFound(err) {
		return nil, fmt.Errorf("checking existing record: %w", err)
	}

	asOf := time.Now().UTC()
	if pc.ConfirmedAt != nil {
		asOf = pc.ConfirmedAt.UTC()
	}

	expert, err := s.directory.GetExpert(ctx, pc.ExpertID)
	if err != nil {
		return nil, fmt.Errorf("looking up expert: %w", err)
	}

	var clinic *directory.ClinicSettings
	if pc.OrgID != nil {
		clinic, err = s.directory.GetClinicSettings(ctx, *pc.OrgID)
		if err != nil {
			return nil, fmt.Errorf("looking up clinic settings: %w", err)
		}
	}

	entry, plan, err := s.resolver.ResolveForEntity(ctx, expert.BillingEntityID, expert.Tier, asOf)
	if err != nil {
		// Configuration integrity failure: surfaced, never defaulted.
		s.logger.Error("rate resolution failed",
			"transaction_id", pc.TransactionID,
			"expert_id", expert.ID,
			"tier", expert.Tier,
			"billing_entity_id", expert.BillingEntityID,
			"error", err,
		)
		return nil, err
	}

	var clinicBps *int64
	if clinic != nil {
		rate := clinic.FeeRateBps
		clinicBps = &rate
	}

	computed, err := split.Compute(pc.GrossMinor, entry.CommissionRateBps, clinicBps)
	if err != nil {
		return nil, err
	}

	vr := s.policy.Validate(computed)

	var outcome transfer.Outcome
	if vr.Accepted() {
		outcome = s.transfers.Execute(ctx, &transfer.Request{
			TransactionID:  pc.TransactionID,
			ChargeRef:      pc.ChargeRef,
			Currency:       money.Currency(pc.Currency),
			Destinations:   destinations(computed, expert, clinic),
			IdempotencyKey: IdempotencyKey(pc.TransactionID),
		})
	} else {
		s.logger.Warn("split rejected by policy",
			"transaction_id", pc.TransactionID,
			"reason", vr.Reason,
			"detail", vr.Detail,
		)
	}

	record, err := NewRecord(
		ulid.Make().String(), pc.TransactionID, computed,
		money.Currency(pc.Currency), pc.PayerID, pc.ExpertID, pc.OrgID,
		entry, vr, outcome, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("building record: %w", err)
	}

	if err := s.records.Create(ctx, record); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			// Lost a race with a concurrent duplicate delivery; the
			// processor-side idempotency key kept the money safe.
			return s.records.GetByTransactionID(ctx, pc.TransactionID)
		}
		return nil, fmt.Errorf("writing record: %w", err)
	}

	s.logger.Info("commission record written",
		"record_id", record.ID,
		"transaction_id", record.TransactionID,
		"tier", entry.Tier,
		"plan", plan,
		"gross", record.GrossMinor,
		"platform", record.PlatformMinor,
		"clinic", record.ClinicMinor,
		"expert", record.ExpertMinor,
		"validation", record.ValidationOutcome,
		"transfer_status", record.TransferStatus,
	)

	s.publishRecorded(ctx, record)

	return record, nil
}

func destinations(s split.Split, expert *directory.Expert, clinic *directory.ClinicSettings) []transfer.Destination {
	dests := []transfer.Destination{
		{Party: transfer.PartyExpert, AccountID: expert.PayoutAccountID, AmountMinor: s.ExpertMinor},
	}
	if clinic != nil {
		dests = append(dests, transfer.Destination{
			Party:       transfer.PartyClinic,
			AccountID:   clinic.PayoutAccountID,
			AmountMinor: s.ClinicMinor,
		})
	}
	return dests
}

func (s *Service) publishRecorded(ctx context.Context, r *Record) {
	subject := SubjectCommissionRecorded
	eventType := EventCommissionRecorded
	switch {
	case r.ValidationOutcome == split.OutcomeRejected:
		subject = SubjectCommissionRejected
		eventType = EventCommissionRejected
	case r.TransferStatus == string(transfer.StatusFailed):
		subject = SubjectCommissionTransferFail
		eventType = EventTransferFailed
	}

	env, err := events.NewEnvelope(eventType, "commission_record", r.ID, recordedEvent(r))
	if err != nil {
		s.logger.Error("failed to build commission event", "error", err)
		return
	}
	env.WithCorrelation(middleware.GetCorrelationID(ctx))
	if err := s.publisher.Publish(ctx, subject, env); err != nil {
		s.logger.Error("failed to publish commission event",
			"error", err,
			"subject", subject,
			"record_id", r.ID,
		)
	}
}

// GetRecord retrieves the split record for a transaction.
func (s *Service) GetRecord(ctx context.Context, transactionID string) (*Record, error) {
	return s.records.GetByTransactionID(ctx, transactionID)
}

// ListExpertRecords lists an expert's records, newest first.
func (s *Service) ListExpertRecords(ctx context.Context, expertID string, limit, offset int) ([]*Record, error) {
	return s.records.ListByExpert(ctx, expertID, limit, offset)
}

// Reverse writes a compensating record for a transaction's split record
// (refund or dispute). The original stays untouched; reversing twice
// returns the existing reversal.
func (s *Service) Reverse(ctx context.Context, transactionID, reason string) (*Record, error) {
	original, err := s.records.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("looking up original record: %w", err)
	}

	if existing, err := s.records.GetReversal(ctx, original.ID); err == nil {
		return existing, nil
	} else if !database.IsNotFound(err) {
		return nil, fmt.Errorf("checking existing reversal: %w", err)
	}

	reversal, err := NewReversal(ulid.Make().String(), original, reason)
	if err != nil {
		return nil, err
	}

	if err := s.records.Create(ctx, reversal); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return s.records.GetReversal(ctx, original.ID)
		}
		return nil, fmt.Errorf("writing reversal: %w", err)
	}

	s.logger.Info("commission record reversed",
		"record_id", reversal.ID,
		"original_id", original.ID,
		"transaction_id", transactionID,
		"reason", reason,
	)

	env, err := events.NewEnvelope(EventCommissionReversed, "commission_record", reversal.ID, CommissionReversedEvent{
		RecordID:      reversal.ID,
		OriginalID:    original.ID,
		TransactionID: transactionID,
		Reason:        reason,
	})
	if err == nil {
		env.WithCorrelation(middleware.GetCorrelationID(ctx))
		if pubErr := s.publisher.Publish(ctx, SubjectCommissionReversed, env); pubErr != nil {
			s.logger.Error("failed to publish reversal event", "error", pubErr)
		}
	}

	return reversal, nil
}

// RecomputeResult reports whether a stored record still reproduces from
// the rate table at its snapshot instant.
type RecomputeResult struct {
	RecordID        string `json:"record_id"`
	TransactionID   string `json:"transaction_id"`
	Reproduces      bool   `json:"reproduces"`
	StoredRateBps   int64  `json:"stored_rate_bps"`
	ResolvedRateBps int64  `json:"resolved_rate_bps"`
	Detail          string `json:"detail,omitempty"`
}

// Recompute re-runs rate resolution and split computation for a stored
// record at its calculation instant. Because the resolver and calculator
// are deterministic, any mismatch signals that configuration history was
// altered after the fact.
func (s *Service) Recompute(ctx context.Context, transactionID string) (*RecomputeResult, error) {
	record, err := s.records.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	result := &RecomputeResult{
		RecordID:      record.ID,
		TransactionID: record.TransactionID,
		StoredRateBps: record.PlatformRateBps,
	}

	entry, err := s.resolver.Resolve(record.TierSnapshot, record.PlanSnapshot, record.CalculatedAt)
	if err != nil {
		result.Detail = err.Error()
		return result, nil
	}
	result.ResolvedRateBps = entry.CommissionRateBps

	recomputed, err := split.Compute(record.GrossMinor, entry.CommissionRateBps, record.ClinicRateBps)
	if err != nil {
		result.Detail = err.Error()
		return result, nil
	}

	stored := record.Split()
	result.Reproduces = entry.CommissionRateBps == record.PlatformRateBps &&
		recomputed.PlatformMinor == stored.PlatformMinor &&
		recomputed.ClinicMinor == stored.ClinicMinor &&
		recomputed.ExpertMinor == stored.ExpertMinor
	if !result.Reproduces && result.Detail == "" {
		result.Detail = fmt.Sprintf("stored (%d, %d, %d) != recomputed (%d, %d, %d)",
			stored.PlatformMinor, stored.ClinicMinor, stored.ExpertMinor,
			recomputed.PlatformMinor, recomputed.ClinicMinor, recomputed.ExpertMinor)
	}

	return result, nil
}

// HandleEnvelope consumes a payment.confirmed envelope from the event bus.
// Malformed payloads and input errors are logged and dropped (acked);
// anything else is returned for redelivery.
func (s *Service) HandleEnvelope(ctx context.Context, env *events.Envelope) error {
	if env.Type != EventPaymentConfirmed {
		s.logger.Warn("ignoring unexpected event type", "type", env.Type)
		return nil
	}

	var pc PaymentConfirmed
	if err := env.DecodeData(&pc); err != nil {
		s.logger.Error("malformed payment.confirmed payload",
			"event_id", env.ID,
			"error", err,
		)
		return nil
	}

	_, err := s.Process(ctx, &pc)
	if err != nil {
		if errors.Is(err, split.ErrInvalidGrossAmount) {
			s.logger.Error("invalid payment event dropped",
				"event_id", env.ID,
				"transaction_id", pc.TransactionID,
				"error", err,
			)
			return nil
		}
		return err
	}
	return nil
}
