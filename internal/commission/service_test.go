package commission

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepay/internal/common/database"
	"carepay/internal/common/events"
	"carepay/internal/common/middleware"
	"carepay/internal/directory"
	"carepay/internal/rates"
	"carepay/internal/split"
	"carepay/internal/transfer"
)

type fakeStore struct {
	records map[string]*Record
	creates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (f *fakeStore) Create(ctx context.Context, r *Record) error {
	for _, existing := range f.records {
		if existing.TransactionID == r.TransactionID && existing.Kind == r.Kind {
			return database.ErrAlreadyExists
		}
	}
	f.records[r.ID] = r
	f.creates++
	return nil
}

func (f *fakeStore) GetByTransactionID(ctx context.Context, transactionID string) (*Record, error) {
	for _, r := range f.records {
		if r.TransactionID == transactionID && r.Kind == KindSplit {
			return r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*Record, error) {
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetReversal(ctx context.Context, originalID string) (*Record, error) {
	for _, r := range f.records {
		if r.Kind == KindReversal && r.OriginalID != nil && *r.OriginalID == originalID {
			return r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListByExpert(ctx context.Context, expertID string, limit, offset int) ([]*Record, error) {
	var out []*Record
	for _, r := range f.records {
		if r.ExpertID == expertID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	experts map[string]*directory.Expert
	clinics map[string]*directory.ClinicSettings
}

func (f *fakeDirectory) GetExpert(ctx context.Context, expertID string) (*directory.Expert, error) {
	if e, ok := f.experts[expertID]; ok {
		return e, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeDirectory) GetClinicSettings(ctx context.Context, orgID string) (*directory.ClinicSettings, error) {
	if c, ok := f.clinics[orgID]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

type fakePlanStore struct {
	plans map[string]rates.Plan
}

func (f *fakePlanStore) ActivePlan(ctx context.Context, entityID string, asOf time.Time) (*rates.PlanRecord, error) {
	plan, ok := f.plans[entityID]
	if !ok {
		return nil, rates.ErrNoActivePlan
	}
	return &rates.PlanRecord{
		ID:        "plan_" + entityID,
		EntityID:  entityID,
		Plan:      plan,
		StartedAt: asOf.AddDate(-1, 0, 0),
	}, nil
}

func (f *fakePlanStore) Enroll(ctx context.Context, record *rates.PlanRecord) error { return nil }

func (f *fakePlanStore) History(ctx context.Context, entityID string, limit int) ([]*rates.PlanRecord, error) {
	return nil, nil
}

type fakeExecutor struct {
	calls    int
	requests []*transfer.Request
	outcome  transfer.Outcome
}

func (f *fakeExecutor) Execute(ctx context.Context, req *transfer.Request) transfer.Outcome {
	total := int64(0)
	for _, d := range req.Destinations {
		total += d.AmountMinor
	}
	if total == 0 {
		return transfer.Outcome{Status: transfer.StatusSkipped}
	}
	f.calls++
	f.requests = append(f.requests, req)
	if f.outcome.Status == "" {
		now := time.Now().UTC()
		return transfer.Outcome{
			Status:      transfer.StatusCompleted,
			ProviderRef: "tg_fake",
			Attempts:    1,
			CompletedAt: &now,
		}
	}
	return f.outcome
}

type fakePublisher struct {
	subjects  []string
	envelopes []*events.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, env *events.Envelope) error {
	f.subjects = append(f.subjects, subject)
	f.envelopes = append(f.envelopes, env)
	return nil
}

type serviceFixture struct {
	service   *Service
	store     *fakeStore
	executor  *fakeExecutor
	publisher *fakePublisher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	dir := &fakeDirectory{
		experts: map[string]*directory.Expert{
			"exp_1": {
				ID:              "exp_1",
				Tier:            rates.TierCommunity,
				BillingEntityID: "be_1",
				PayoutAccountID: "acct_expert_1",
			},
			"exp_top": {
				ID:              "exp_top",
				Tier:            rates.TierTop,
				BillingEntityID: "be_top",
				PayoutAccountID: "acct_expert_top",
			},
		},
		clinics: map[string]*directory.ClinicSettings{
			"org_1":      {OrgID: "org_1", FeeRateBps: 1000, PayoutAccountID: "acct_clinic_1"},
			"org_greedy": {OrgID: "org_greedy", FeeRateBps: 2500, PayoutAccountID: "acct_clinic_2"},
			"org_broken": {OrgID: "org_broken", FeeRateBps: 12000, PayoutAccountID: "acct_clinic_3"},
		},
	}

	plans := &fakePlanStore{plans: map[string]rates.Plan{
		"be_1":   rates.PlanCommissionOnly,
		"be_top": rates.PlanAnnual,
	}}

	store := newFakeStore()
	executor := &fakeExecutor{}
	publisher := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(
		store, dir,
		rates.NewResolver(rates.DefaultTable(), plans),
		split.DefaultPolicy(),
		executor, publisher, logger,
	)

	return &serviceFixture{service: svc, store: store, executor: executor, publisher: publisher}
}

func payment(transactionID string) *PaymentConfirmed {
	return &PaymentConfirmed{
		TransactionID: transactionID,
		ChargeRef:     "ch_" + transactionID,
		GrossMinor:    10000,
		Currency:      "USD",
		PayerID:       "pat_1",
		ExpertID:      "exp_1",
	}
}

func TestProcessSoloExpert(t *testing.T) {
	f := newServiceFixture(t)

	record, err := f.service.Process(context.Background(), payment("txn_1"))
	require.NoError(t, err)

	assert.Equal(t, KindSplit, record.Kind)
	assert.Equal(t, int64(2000), record.PlatformMinor)
	assert.Equal(t, int64(0), record.ClinicMinor)
	assert.Equal(t, int64(8000), record.ExpertMinor)
	assert.Equal(t, rates.TierCommunity, record.TierSnapshot)
	assert.Equal(t, rates.PlanCommissionOnly, record.PlanSnapshot)
	assert.Equal(t, split.OutcomeAccepted, record.ValidationOutcome)
	assert.Equal(t, string(transfer.StatusCompleted), record.TransferStatus)
	assert.Equal(t, "tg_fake", record.TransferRef)

	require.Len(t, f.executor.requests, 1)
	req := f.executor.requests[0]
	assert.Equal(t, "txn:txn_1", req.IdempotencyKey)
	require.Len(t, req.Destinations, 1)
	assert.Equal(t, transfer.PartyExpert, req.Destinations[0].Party)
	assert.Equal(t, int64(8000), req.Destinations[0].AmountMinor)

	assert.Equal(t, []string{SubjectCommissionRecorded}, f.publisher.subjects)
}

func TestProcessWithClinicShare(t *testing.T) {
	f := newServiceFixture(t)

	pc := payment("txn_2")
	pc.ExpertID = "exp_top"
	org := "org_1"
	pc.OrgID = &org

	record, err := f.service.Process(context.Background(), pc)
	require.NoError(t, err)

	// top/annual resolves to 800 bps; clinic takes 1000 bps.
	assert.Equal(t, int64(800), record.PlatformMinor)
	assert.Equal(t, int64(1000), record.ClinicMinor)
	assert.Equal(t, int64(8200), record.ExpertMinor)
	require.NotNil(t, record.ClinicRateBps)
	assert.Equal(t, int64(1000), *record.ClinicRateBps)

	require.Len(t, f.executor.requests, 1)
	require.Len(t, f.executor.requests[0].Destinations, 2)
	assert.Equal(t, transfer.PartyClinic, f.executor.requests[0].Destinations[1].Party)
	assert.Equal(t, int64(1000), f.executor.requests[0].Destinations[1].AmountMinor)
}

func TestProcessDuplicateIsNoOp(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.service.Process(context.Background(), payment("txn_3"))
	require.NoError(t, err)

	second, err := f.service.Process(context.Background(), payment("txn_3"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.executor.calls, "duplicate must not reach the processor")
	assert.Equal(t, 1, f.store.creates, "duplicate must not write a second record")
}

func TestProcessRejectedSplitIsStillRecorded(t *testing.T) {
	f := newServiceFixture(t)

	// community/commission_only (2000 bps) plus a 2500 bps clinic fee puts
	// combined fees at 45%, over the 40% ceiling.
	pc := payment("txn_4")
	org := "org_greedy"
	pc.OrgID = &org

	record, err := f.service.Process(context.Background(), pc)
	require.NoError(t, err)

	assert.Equal(t, split.OutcomeRejected, record.ValidationOutcome)
	assert.Equal(t, split.ReasonAggregateFeeExceedsMax, record.RejectionReason)
	assert.Equal(t, TransferNotAttempted, record.TransferStatus)
	assert.Equal(t, 0, f.executor.calls, "rejected split must not move money")
	assert.Equal(t, []string{SubjectCommissionRejected}, f.publisher.subjects)

	// Frozen amounts stay queryable for audit.
	stored, err := f.service.GetRecord(context.Background(), "txn_4")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.PlatformMinor)
	assert.Equal(t, int64(2500), stored.ClinicMinor)
	assert.Equal(t, int64(5500), stored.ExpertMinor)
}

func TestProcessClinicRateAboveDenominatorIsRecorded(t *testing.T) {
	f := newServiceFixture(t)

	// A clinic rate above 100% cannot come through the schema-constrained
	// store, but a broken directory source must still yield an auditable
	// rejection rather than a pipeline error.
	pc := payment("txn_broken")
	org := "org_broken"
	pc.OrgID = &org

	record, err := f.service.Process(context.Background(), pc)
	require.NoError(t, err)

	assert.Equal(t, split.OutcomeRejected, record.ValidationOutcome)
	assert.Equal(t, split.ReasonClinicRateOutOfRange, record.RejectionReason)
	require.NotNil(t, record.ClinicRateBps)
	assert.Equal(t, int64(12000), *record.ClinicRateBps)
	assert.Equal(t, TransferNotAttempted, record.TransferStatus)
	assert.Equal(t, 0, f.executor.calls)
	assert.Equal(t, []string{SubjectCommissionRejected}, f.publisher.subjects)
}

func TestProcessPropagatesCorrelationID(t *testing.T) {
	f := newServiceFixture(t)

	ctx := context.WithValue(context.Background(), middleware.CorrelationIDKey, "corr_42")
	_, err := f.service.Process(ctx, payment("txn_corr"))
	require.NoError(t, err)

	require.Len(t, f.publisher.envelopes, 1)
	assert.Equal(t, "corr_42", f.publisher.envelopes[0].CorrelationID)
}

func TestProcessZeroGross(t *testing.T) {
	f := newServiceFixture(t)

	pc := payment("txn_5")
	pc.GrossMinor = 0

	record, err := f.service.Process(context.Background(), pc)
	require.NoError(t, err)

	assert.Equal(t, split.OutcomeAccepted, record.ValidationOutcome)
	assert.Equal(t, int64(0), record.ExpertMinor)
	assert.Equal(t, string(transfer.StatusSkipped), record.TransferStatus)
}

func TestProcessNegativeGross(t *testing.T) {
	f := newServiceFixture(t)

	pc := payment("txn_6")
	pc.GrossMinor = -100

	_, err := f.service.Process(context.Background(), pc)
	require.ErrorIs(t, err, split.ErrInvalidGrossAmount)
	assert.Equal(t, 0, f.store.creates)
}

func TestProcessUnknownExpert(t *testing.T) {
	f := newServiceFixture(t)

	pc := payment("txn_7")
	pc.ExpertID = "exp_missing"

	_, err := f.service.Process(context.Background(), pc)
	require.Error(t, err)
	assert.True(t, database.IsNotFound(err))
	assert.Equal(t, 0, f.executor.calls)
}

func TestProcessTransferFailureIsRecorded(t *testing.T) {
	f := newServiceFixture(t)
	f.executor.outcome = transfer.Outcome{
		Status:       transfer.StatusFailed,
		Attempts:     4,
		ErrorCode:    "UPSTREAM_DOWN",
		ErrorMessage: "processor unavailable",
	}

	record, err := f.service.Process(context.Background(), payment("txn_8"))
	require.NoError(t, err, "transfer failure is an outcome, not an error")

	assert.Equal(t, split.OutcomeAccepted, record.ValidationOutcome)
	assert.Equal(t, string(transfer.StatusFailed), record.TransferStatus)
	assert.Equal(t, 4, record.TransferAttempts)
	assert.Equal(t, "UPSTREAM_DOWN", record.TransferErrorCode)
	assert.Equal(t, []string{SubjectCommissionTransferFail}, f.publisher.subjects)
}

func TestProcessSnapshotSurvivesRateChange(t *testing.T) {
	f := newServiceFixture(t)

	confirmedAt := time.Date(2025, time.February, 1, 10, 0, 0, 0, time.UTC)
	pc := payment("txn_9")
	pc.ConfirmedAt = &confirmedAt

	record, err := f.service.Process(context.Background(), pc)
	require.NoError(t, err)

	assert.Equal(t, confirmedAt, record.CalculatedAt)
	assert.Equal(t, int64(2000), record.PlatformRateBps)
	assert.Equal(t, int64(0), record.RecurringFeeSnapshot)

	// The snapshot alone must reproduce the stored amounts.
	result, err := f.service.Recompute(context.Background(), "txn_9")
	require.NoError(t, err)
	assert.True(t, result.Reproduces, result.Detail)
	assert.Equal(t, record.PlatformRateBps, result.ResolvedRateBps)
}

func TestReverse(t *testing.T) {
	f := newServiceFixture(t)

	original, err := f.service.Process(context.Background(), payment("txn_10"))
	require.NoError(t, err)

	reversal, err := f.service.Reverse(context.Background(), "txn_10", "patient refunded")
	require.NoError(t, err)

	assert.Equal(t, KindReversal, reversal.Kind)
	require.NotNil(t, reversal.OriginalID)
	assert.Equal(t, original.ID, *reversal.OriginalID)
	assert.Equal(t, original.ExpertMinor, reversal.ExpertMinor)
	assert.Equal(t, "patient refunded", reversal.ReversalReason)
	assert.Equal(t, TransferNotAttempted, reversal.TransferStatus)

	// Original record untouched.
	stored, err := f.service.GetRecord(context.Background(), "txn_10")
	require.NoError(t, err)
	assert.Equal(t, original.ID, stored.ID)
	assert.Empty(t, stored.ReversalReason)

	// Reversing again returns the existing reversal.
	again, err := f.service.Reverse(context.Background(), "txn_10", "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, reversal.ID, again.ID)
	assert.Equal(t, "patient refunded", again.ReversalReason)
}

func TestReverseUnknownTransaction(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Reverse(context.Background(), "txn_missing", "refund")
	require.Error(t, err)
	assert.True(t, database.IsNotFound(err))
}

func TestHandleEnvelope(t *testing.T) {
	f := newServiceFixture(t)

	env, err := events.NewEnvelope(EventPaymentConfirmed, "payment", "txn_11", payment("txn_11"))
	require.NoError(t, err)

	require.NoError(t, f.service.HandleEnvelope(context.Background(), env))

	record, err := f.service.GetRecord(context.Background(), "txn_11")
	require.NoError(t, err)
	assert.Equal(t, int64(8000), record.ExpertMinor)
}

func TestHandleEnvelopeDropsBadInput(t *testing.T) {
	f := newServiceFixture(t)

	// Wrong event type is acked without processing.
	env, err := events.NewEnvelope("payment.failed", "payment", "txn_12", payment("txn_12"))
	require.NoError(t, err)
	require.NoError(t, f.service.HandleEnvelope(context.Background(), env))
	assert.Equal(t, 0, f.store.creates)

	// Negative gross is acked so redelivery cannot loop forever.
	pc := payment("txn_13")
	pc.GrossMinor = -1
	env, err = events.NewEnvelope(EventPaymentConfirmed, "payment", "txn_13", pc)
	require.NoError(t, err)
	require.NoError(t, f.service.HandleEnvelope(context.Background(), env))
	assert.Equal(t, 0, f.store.creates)
}
