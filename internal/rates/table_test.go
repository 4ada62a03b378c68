package rates

import (
	"errors"
	"testing"
	"time"
)

var testAsOf = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestDefaultTableResolve(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		tier     Tier
		plan     Plan
		wantBps  int64
		wantFee  int64
	}{
		{TierCommunity, PlanCommissionOnly, 2000, 0},
		{TierCommunity, PlanMonthly, 1500, 4900},
		{TierCommunity, PlanAnnual, 1200, 49900},
		{TierTop, PlanCommissionOnly, 1500, 0},
		{TierTop, PlanMonthly, 1000, 4900},
		{TierTop, PlanAnnual, 800, 49900},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+string(tt.plan), func(t *testing.T) {
			entry, err := table.Resolve(tt.tier, tt.plan, testAsOf)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if entry.CommissionRateBps != tt.wantBps {
				t.Errorf("rate = %d bps, want %d", entry.CommissionRateBps, tt.wantBps)
			}
			if entry.RecurringFeeMinor != tt.wantFee {
				t.Errorf("recurring fee = %d, want %d", entry.RecurringFeeMinor, tt.wantFee)
			}
		})
	}
}

func TestResolveUnknownCombination(t *testing.T) {
	table := DefaultTable()

	if _, err := table.Resolve(Tier("platinum"), PlanMonthly, testAsOf); !errors.Is(err, ErrUnknownTierPlan) {
		t.Errorf("unknown tier: err = %v, want ErrUnknownTierPlan", err)
	}
	if _, err := table.Resolve(TierTop, Plan("weekly"), testAsOf); !errors.Is(err, ErrUnknownTierPlan) {
		t.Errorf("unknown plan: err = %v, want ErrUnknownTierPlan", err)
	}

	// Before any entry became effective.
	early := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	if _, err := table.Resolve(TierTop, PlanMonthly, early); !errors.Is(err, ErrUnknownTierPlan) {
		t.Errorf("before effective_from: err = %v, want ErrUnknownTierPlan", err)
	}
}

func TestResolveEffectiveDating(t *testing.T) {
	cutover := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	table, err := NewTable([]Entry{
		{
			Tier: TierTop, Plan: PlanMonthly,
			CommissionRateBps: 1000, RecurringFeeMinor: 4900,
			EffectiveFrom: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			EffectiveTo:   &cutover,
		},
		{
			Tier: TierTop, Plan: PlanMonthly,
			CommissionRateBps: 900, RecurringFeeMinor: 5900,
			EffectiveFrom: cutover,
		},
	})
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	before, err := table.Resolve(TierTop, PlanMonthly, cutover.Add(-time.Second))
	if err != nil {
		t.Fatalf("Resolve() before cutover error = %v", err)
	}
	if before.CommissionRateBps != 1000 {
		t.Errorf("before cutover rate = %d, want 1000", before.CommissionRateBps)
	}

	after, err := table.Resolve(TierTop, PlanMonthly, cutover)
	if err != nil {
		t.Fatalf("Resolve() at cutover error = %v", err)
	}
	if after.CommissionRateBps != 900 {
		t.Errorf("at cutover rate = %d, want 900", after.CommissionRateBps)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	table := DefaultTable()

	first, err := table.Resolve(TierCommunity, PlanAnnual, testAsOf)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := table.Resolve(TierCommunity, PlanAnnual, testAsOf)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if again != first {
			t.Fatalf("Resolve() not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestNewTableValidation(t *testing.T) {
	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"unknown tier", Entry{Tier: "bronze", Plan: PlanMonthly, CommissionRateBps: 1000, EffectiveFrom: from}},
		{"unknown plan", Entry{Tier: TierTop, Plan: "weekly", CommissionRateBps: 1000, EffectiveFrom: from}},
		{"rate above 10000", Entry{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: 10001, EffectiveFrom: from}},
		{"negative rate", Entry{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: -1, EffectiveFrom: from}},
		{"negative recurring fee", Entry{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: 1000, RecurringFeeMinor: -1, EffectiveFrom: from}},
		{"missing effective_from", Entry{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: 1000}},
		{"effective_to before effective_from", Entry{Tier: TierTop, Plan: PlanMonthly, CommissionRateBps: 1000, EffectiveFrom: from, EffectiveTo: &from}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable([]Entry{tt.entry}); err == nil {
				t.Error("NewTable() accepted an invalid entry")
			}
		})
	}
}

func TestPlanRecordActiveAt(t *testing.T) {
	started := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	ended := started.AddDate(0, 6, 0)

	open := PlanRecord{Plan: PlanMonthly, StartedAt: started}
	if open.ActiveAt(started.Add(-time.Second)) {
		t.Error("open record active before its start")
	}
	if !open.ActiveAt(started) {
		t.Error("open record inactive at its start")
	}
	if !open.ActiveAt(started.AddDate(1, 0, 0)) {
		t.Error("open record inactive after its start")
	}

	closed := PlanRecord{Plan: PlanMonthly, StartedAt: started, EndedAt: &ended}
	if !closed.ActiveAt(ended.Add(-time.Second)) {
		t.Error("closed record inactive just before its end")
	}
	if closed.ActiveAt(ended) {
		t.Error("closed record active at its end")
	}
}
