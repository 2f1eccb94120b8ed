/**
 * @description
 * Service fee policy model and the pure fee computation it drives. A fee
 * config belongs to a job category and is one of three policy shapes:
 * fixed amount, percentage of salary, or tiered salary bands.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// FeeType is the closed set of fee calculation policies.
type FeeType string

const (
	FeeFixedAmount FeeType = "fixed_amount"
	FeePercentage  FeeType = "percentage"
	FeeTiered      FeeType = "tiered"
)

// FeeTier is one salary band in a tiered fee policy. Bands are inclusive on
// both ends and the configured list is ordered by Min ascending.
type FeeTier struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
	Fee int64 `json:"fee"`
}

// ServiceFeeConfig is the per-category fee policy. Multiple configs may
// exist per category; only the active one with the latest effective_from
// not in the future applies.
type ServiceFeeConfig struct {
	ID         uuid.UUID `json:"id"`
	CategoryID uuid.UUID `json:"category_id"`

	FeeType     FeeType   `json:"fee_type"`
	FixedAmount *int64    `json:"fixed_amount,omitempty"`
	Percentage  *float64  `json:"percentage,omitempty"`
	Tiers       []FeeTier `json:"tier_config,omitempty"`

	MinimumFee *int64 `json:"minimum_fee,omitempty"`
	MaximumFee *int64 `json:"maximum_fee,omitempty"`

	IsActive      bool      `json:"is_active"`
	EffectiveFrom time.Time `json:"effective_from"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultFeePercent is the fallback applied when a category has no active
// fee config: 25% of the salary, unclamped. This is a deliberate business
// default, not an accident of the lookup failing.
const DefaultFeePercent = 25

// ComputeFee calculates the platform service fee for a salary under this
// config. Pure and deterministic; the raw policy fee is clamped to
// [MinimumFee, MaximumFee] when those bounds are set.
func (c *ServiceFeeConfig) ComputeFee(salary int64) int64 {
	var fee int64

	switch c.FeeType {
	case FeeFixedAmount:
		if c.FixedAmount != nil {
			fee = *c.FixedAmount
		}
	case FeePercentage:
		if c.Percentage != nil {
			fee = int64(float64(salary) * *c.Percentage / 100)
		}
	case FeeTiered:
		fee = tieredFee(c.Tiers, salary)
	}

	if c.MinimumFee != nil && fee < *c.MinimumFee {
		fee = *c.MinimumFee
	}
	if c.MaximumFee != nil && fee > *c.MaximumFee {
		fee = *c.MaximumFee
	}
	if fee < 0 {
		fee = 0
	}
	return fee
}

// tieredFee returns the fee of the first band containing the salary. A
// salary above every band's max falls into the last band: the top tier is
// open-ended.
func tieredFee(tiers []FeeTier, salary int64) int64 {
	if len(tiers) == 0 {
		return 0
	}
	for _, tier := range tiers {
		if salary >= tier.Min && salary <= tier.Max {
			return tier.Fee
		}
	}
	return tiers[len(tiers)-1].Fee
}

// FallbackFee is the no-config default: DefaultFeePercent of the salary,
// rounded down, with no clamping.
func FallbackFee(salary int64) int64 {
	if salary <= 0 {
		return 0
	}
	return salary * DefaultFeePercent / 100
}
