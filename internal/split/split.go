// Package split computes and validates the division of one gross payment
// between the platform, an optional clinic, and the expert.
//
// All math is exact int64 minor-unit arithmetic. Platform and clinic shares
// round down; the expert receives the remainder, so every split reconciles
// to the gross amount by construction and any rounding slack accrues to the
// expert.
package split

import (
	"errors"
	"fmt"

	"carepay/internal/common/money"
)

// ErrInvalidGrossAmount rejects negative or oversized gross amounts before
// any arithmetic runs.
var ErrInvalidGrossAmount = errors.New("gross amount out of range")

// ErrInvalidRate rejects rates the calculator cannot process.
var ErrInvalidRate = errors.New("rate out of basis-point range")

// MaxGrossMinor bounds gross amounts so every product of an amount and a
// basis-point rate in this package and in the policy checks stays within
// int64.
const MaxGrossMinor int64 = 1_000_000_000_000

// maxClinicRateBps bounds the clinic rate the calculator will process.
// Rates above the denominator are computed rather than refused so the
// validator can record them as out-of-range rejections; rates beyond this
// bound are treated as corrupt input.
const maxClinicRateBps int64 = 100 * money.BasisPointDenominator

// Split is the computed division of one gross amount.
type Split struct {
	GrossMinor     int64  `json:"gross_minor"`
	PlatformMinor  int64  `json:"platform_minor"`
	ClinicMinor    int64  `json:"clinic_minor"`
	ExpertMinor    int64  `json:"expert_minor"`
	PlatformBps    int64  `json:"platform_bps"`
	ClinicBps      *int64 `json:"clinic_bps,omitempty"`
	HasClinicShare bool   `json:"has_clinic_share"`
}

// FeeTotalMinor returns the combined platform and clinic take.
func (s Split) FeeTotalMinor() int64 {
	return s.PlatformMinor + s.ClinicMinor
}

// Reconciles reports whether the shares sum exactly to the gross amount.
func (s Split) Reconciles() bool {
	return s.PlatformMinor+s.ClinicMinor+s.ExpertMinor == s.GrossMinor
}

// Compute divides grossMinor between platform, clinic (when clinicBps is
// non-nil) and expert.
//
// platform = floor(gross*platformBps/10000), clinic likewise; the expert
// share is the remainder and is never rounded independently. A zero gross
// amount yields an all-zero split without error. A clinic rate above the
// denominator still computes (yielding a negative expert remainder) so the
// validator can reject and record it. Pure function.
func Compute(grossMinor, platformBps int64, clinicBps *int64) (Split, error) {
	if grossMinor < 0 || grossMinor > MaxGrossMinor {
		return Split{}, fmt.Errorf("%w: %d", ErrInvalidGrossAmount, grossMinor)
	}
	if platformBps < 0 || platformBps > money.BasisPointDenominator {
		return Split{}, fmt.Errorf("%w: platform %d bps", ErrInvalidRate, platformBps)
	}
	if clinicBps != nil && (*clinicBps < 0 || *clinicBps > maxClinicRateBps) {
		return Split{}, fmt.Errorf("%w: clinic %d bps", ErrInvalidRate, *clinicBps)
	}

	s := Split{
		GrossMinor:  grossMinor,
		PlatformBps: platformBps,
	}

	s.PlatformMinor = money.ShareFloor(grossMinor, platformBps)
	if clinicBps != nil {
		rate := *clinicBps
		s.ClinicBps = &rate
		s.HasClinicShare = true
		s.ClinicMinor = money.ShareFloor(grossMinor, rate)
	}
	s.ExpertMinor = grossMinor - s.PlatformMinor - s.ClinicMinor

	return s, nil
}
