// Package rates resolves the platform commission rate for an expert from
// the effective-dated rate table and the expert's billing plan history.
package rates

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Tier is an expert's current service-level classification. It is assigned
// by an external progression process and read-only here.
type Tier string

const (
	TierCommunity Tier = "community"
	TierTop       Tier = "top"
)

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	return t == TierCommunity || t == TierTop
}

// Plan is a billing plan. Exactly one plan is active per billing entity at
// any instant.
type Plan string

const (
	PlanCommissionOnly Plan = "commission_only"
	PlanMonthly        Plan = "monthly"
	PlanAnnual         Plan = "annual"
)

// Valid reports whether the plan is a known value.
func (p Plan) Valid() bool {
	return p == PlanCommissionOnly || p == PlanMonthly || p == PlanAnnual
}

// Resolution errors. Both are configuration failures that stop the pipeline
// before any money logic runs.
var (
	ErrUnknownTierPlan = errors.New("no rate table entry for tier/plan combination")
	ErrNoActivePlan    = errors.New("no billing plan active at the given instant")
)

// Entry is one immutable rate table row: (tier, plan) mapped to a
// commission rate and a recurring fee, bounded by an effective date range.
type Entry struct {
	Tier              Tier       `json:"tier"`
	Plan              Plan       `json:"plan"`
	CommissionRateBps int64      `json:"commission_rate_bps"`
	RecurringFeeMinor int64      `json:"recurring_fee_minor"`
	EffectiveFrom     time.Time  `json:"effective_from"`
	EffectiveTo       *time.Time `json:"effective_to,omitempty"`
}

// activeAt reports whether the entry covers the given instant.
func (e Entry) activeAt(at time.Time) bool {
	if at.Before(e.EffectiveFrom) {
		return false
	}
	return e.EffectiveTo == nil || at.Before(*e.EffectiveTo)
}

// Table is a versioned, ordered list of rate entries. It is immutable once
// built, so Resolve is safe for concurrent use.
type Table struct {
	entries []Entry
}

// NewTable builds a table from entries, validating each row.
func NewTable(entries []Entry) (*Table, error) {
	for i, e := range entries {
		if !e.Tier.Valid() {
			return nil, fmt.Errorf("entry %d: unknown tier %q", i, e.Tier)
		}
		if !e.Plan.Valid() {
			return nil, fmt.Errorf("entry %d: unknown plan %q", i, e.Plan)
		}
		if e.CommissionRateBps < 0 || e.CommissionRateBps > 10000 {
			return nil, fmt.Errorf("entry %d: commission rate %d bps out of range", i, e.CommissionRateBps)
		}
		if e.RecurringFeeMinor < 0 {
			return nil, fmt.Errorf("entry %d: negative recurring fee", i)
		}
		if e.EffectiveFrom.IsZero() {
			return nil, fmt.Errorf("entry %d: effective_from is required", i)
		}
		if e.EffectiveTo != nil && !e.EffectiveTo.After(e.EffectiveFrom) {
			return nil, fmt.Errorf("entry %d: effective_to not after effective_from", i)
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Table{entries: cp}, nil
}

// Resolve returns the entry for (tier, plan) active at the given instant.
// Deterministic: identical inputs always yield the identical entry, which
// is what makes audit recomputation trivial. Returns ErrUnknownTierPlan
// when no entry covers the pair at that instant.
func (t *Table) Resolve(tier Tier, plan Plan, asOf time.Time) (Entry, error) {
	if !tier.Valid() {
		return Entry{}, fmt.Errorf("%w: tier=%q plan=%q", ErrUnknownTierPlan, tier, plan)
	}
	if !plan.Valid() {
		return Entry{}, fmt.Errorf("%w: tier=%q plan=%q", ErrUnknownTierPlan, tier, plan)
	}
	for _, e := range t.entries {
		if e.Tier == tier && e.Plan == plan && e.activeAt(asOf) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: tier=%q plan=%q as_of=%s", ErrUnknownTierPlan, tier, plan, asOf.Format(time.RFC3339))
}

// Entries returns a copy of the table rows.
func (t *Table) Entries() []Entry {
	cp := make([]Entry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// LoadFile reads a rate table from a JSON file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate table: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing rate table: %w", err)
	}
	return NewTable(entries)
}

// defaultEffectiveFrom anchors the built-in table.
var defaultEffectiveFrom = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultTable returns the built-in rate table. Commission-only carries the
// highest rate and no recurring fee; annual carries the lowest rate and the
// largest recurring fee.
func DefaultTable() *Table {
	entries := []Entry{
		{Tier: TierCommunity, Plan: PlanCommissionOnly, CommissionRateBps: 2000, RecurringFeeMinor: 0, EffectiveFrom: defaultEffectiveFrom},
		{Tier: TierCommunity, Plan: PlanMonthly, CommissionRateBps: 1500, RecurringFeeMinor: 4900, EffectiveFrom: defaultEffectiveFrom},
		{Tier: TierCommunity, Plan: PlanAnnual, CommissionRateBps: 1200, RecurringFeeMinor: 49900, EffectiveFrom: defaultEffectiveFrom},
		{Tier: TierTop, Plan: PlanCommissionOnly, CommissionRateBps: 1500, RecurringFeeMinor: 0, EffectiveFrom: defaultEffectiveFrom},
		{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: 1000, RecurringFeeMinor: 4900, EffectiveFrom: defaultEffectiveFrom},
		{Tier: TierTop, Plan: PlanAnnual, CommissionRateBps: 800, RecurringFeeMinor: 49900, EffectiveFrom: defaultEffectiveFrom},
	}
	t, err := NewTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}
