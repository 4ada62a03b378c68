package rates

import (
	"context"
	"errors"
	"time"
)

// PlanRecord is one version of a billing entity's plan enrollment. Plan
// changes close the current record with an end timestamp and open a new
// one; records are never mutated in place, so historical transactions can
// always resolve the plan active at their moment.
type PlanRecord struct {
	ID        string     `json:"id"`
	EntityID  string     `json:"entity_id"`
	Plan      Plan       `json:"plan"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActiveAt reports whether the record covers the given instant.
func (r PlanRecord) ActiveAt(at time.Time) bool {
	if at.Before(r.StartedAt) {
		return false
	}
	return r.EndedAt == nil || at.Before(*r.EndedAt)
}

// NewPlanRecord validates and creates a plan record.
func NewPlanRecord(id, entityID string, plan Plan, startedAt time.Time) (*PlanRecord, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if entityID == "" {
		return nil, errors.New("entity_id is required")
	}
	if !plan.Valid() {
		return nil, errors.New("unknown plan")
	}
	if startedAt.IsZero() {
		return nil, errors.New("started_at is required")
	}
	return &PlanRecord{
		ID:        id,
		EntityID:  entityID,
		Plan:      plan,
		StartedAt: startedAt,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PlanStore persists versioned plan enrollments.
type PlanStore interface {
	// ActivePlan returns the plan record active for the entity at the given
	// instant, or ErrNoActivePlan.
	ActivePlan(ctx context.Context, entityID string, asOf time.Time) (*PlanRecord, error)
	// Enroll closes the entity's current plan record (if any) at startedAt
	// and opens a new one.
	Enroll(ctx context.Context, record *PlanRecord) error
	// History lists an entity's plan records, newest first.
	History(ctx context.Context, entityID string, limit int) ([]*PlanRecord, error)
}

// Resolver combines the rate table with plan history lookup.
type Resolver struct {
	table *Table
	plans PlanStore
}

// NewResolver creates a resolver over a table and plan store.
func NewResolver(table *Table, plans PlanStore) *Resolver {
	return &Resolver{table: table, plans: plans}
}

// ResolveForEntity resolves the billing entity's active plan at asOf and
// looks up the rate entry for (tier, plan). Pure lookup, no side effects.
func (r *Resolver) ResolveForEntity(ctx context.Context, entityID string, tier Tier, asOf time.Time) (Entry, Plan, error) {
	record, err := r.plans.ActivePlan(ctx, entityID, asOf)
	if err != nil {
		return Entry{}, "", err
	}
	entry, err := r.table.Resolve(tier, record.Plan, asOf)
	if err != nil {
		return Entry{}, "", err
	}
	return entry, record.Plan, nil
}

// Resolve looks up the rate entry for a known (tier, plan) pair.
func (r *Resolver) Resolve(tier Tier, plan Plan, asOf time.Time) (Entry, error) {
	return r.table.Resolve(tier, plan, asOf)
}
