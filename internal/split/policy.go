package split

import "fmt"

// Outcome is the result class of validating a split.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Rejection reasons. These are business conditions, not errors: a rejected
// split is recorded, never thrown.
const (
	ReasonExpertShareBelowMinimum = "EXPERT_SHARE_BELOW_MINIMUM"
	ReasonAggregateFeeExceedsMax  = "AGGREGATE_FEE_EXCEEDS_MAXIMUM"
	ReasonClinicRateOutOfRange    = "CLINIC_RATE_OUT_OF_RANGE"
	ReasonReconciliationMismatch  = "RECONCILIATION_MISMATCH"
)

// ValidationResult is the outcome of checking a split against policy.
type ValidationResult struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// Accepted reports whether the split may proceed to transfer.
func (v ValidationResult) Accepted() bool {
	return v.Outcome == OutcomeAccepted
}

func accepted() ValidationResult {
	return ValidationResult{Outcome: OutcomeAccepted}
}

func rejected(reason, detail string) ValidationResult {
	return ValidationResult{Outcome: OutcomeRejected, Reason: reason, Detail: detail}
}

// Policy carries the configured business thresholds every accepted split
// must satisfy.
type Policy struct {
	ExpertMinimumShareBps int64 `envconfig:"POLICY_EXPERT_MINIMUM_SHARE_BPS" default:"6000"`
	MaxAggregateFeeBps    int64 `envconfig:"POLICY_MAX_AGGREGATE_FEE_BPS" default:"4000"`
	ClinicFeeMinBps       int64 `envconfig:"POLICY_CLINIC_FEE_MIN_BPS" default:"1000"`
	ClinicFeeMaxBps       int64 `envconfig:"POLICY_CLINIC_FEE_MAX_BPS" default:"2500"`
}

// DefaultPolicy returns the standard thresholds: 60% expert floor, 40% fee
// ceiling, clinic fee between 10% and 25%.
func DefaultPolicy() Policy {
	return Policy{
		ExpertMinimumShareBps: 6000,
		MaxAggregateFeeBps:    4000,
		ClinicFeeMinBps:       1000,
		ClinicFeeMaxBps:       2500,
	}
}

// Validate re-derives every invariant against the candidate split and
// returns Accepted or Rejected with a reason. It must run, and must
// reject, before any transfer instruction is issued.
//
// Floor and ceiling comparisons are cross-multiplied so no division (and
// no rounding) occurs in the checks themselves.
func (p Policy) Validate(s Split) ValidationResult {
	// Defensive: Compute constructs reconciling splits, but a future
	// refactor must not be able to slip an unbalanced one past here.
	if !s.Reconciles() {
		return rejected(ReasonReconciliationMismatch,
			fmt.Sprintf("%d+%d+%d != %d", s.PlatformMinor, s.ClinicMinor, s.ExpertMinor, s.GrossMinor))
	}

	// Checked before the negative-share guard: a clinic rate above the
	// denominator drives the expert remainder negative, and the rate is
	// the root cause worth recording.
	if s.HasClinicShare {
		rate := *s.ClinicBps
		if rate < p.ClinicFeeMinBps || rate > p.ClinicFeeMaxBps {
			return rejected(ReasonClinicRateOutOfRange,
				fmt.Sprintf("clinic rate %d bps outside [%d, %d]", rate, p.ClinicFeeMinBps, p.ClinicFeeMaxBps))
		}
	}

	if s.PlatformMinor < 0 || s.ClinicMinor < 0 || s.ExpertMinor < 0 {
		return rejected(ReasonReconciliationMismatch, "negative share amount")
	}
	if !s.HasClinicShare && s.ClinicMinor != 0 {
		return rejected(ReasonReconciliationMismatch, "clinic amount without clinic share")
	}

	if s.FeeTotalMinor()*10000 > s.GrossMinor*p.MaxAggregateFeeBps {
		return rejected(ReasonAggregateFeeExceedsMax,
			fmt.Sprintf("fees %d of gross %d exceed %d bps ceiling", s.FeeTotalMinor(), s.GrossMinor, p.MaxAggregateFeeBps))
	}

	if s.ExpertMinor*10000 < s.GrossMinor*p.ExpertMinimumShareBps {
		return rejected(ReasonExpertShareBelowMinimum,
			fmt.Sprintf("expert share %d of gross %d below %d bps floor", s.ExpertMinor, s.GrossMinor, p.ExpertMinimumShareBps))
	}

	return accepted()
}
