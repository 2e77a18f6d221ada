package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tokopos/backend/internal/store"
)

// Policy is the single source of truth for the purchase margin. It is injected
// into the service at startup; call sites never carry their own literals.
type Policy struct {
	MarginRate float64
}

func DefaultPolicy() Policy {
	return Policy{MarginRate: 0.20}
}

// ToPieces converts a case quantity to pieces using the product's
// contents-per-case factor.
func ToPieces(caseQty int, contentsPerCase int) (int, error) {
	if contentsPerCase < 1 {
		return 0, fmt.Errorf("%w: contents per case must be a positive integer", store.ErrValidation)
	}
	if caseQty < 0 {
		return 0, fmt.Errorf("%w: case quantity must not be negative", store.ErrValidation)
	}
	return caseQty * contentsPerCase, nil
}

// SellPricePerPiece derives the per-piece sell price from a case-level cost:
// (costPerCase / contentsPerCase) * (1 + margin), rounded to whole rupiah.
func (p Policy) SellPricePerPiece(costPerCase int64, contentsPerCase int) (int64, error) {
	if contentsPerCase < 1 {
		return 0, fmt.Errorf("%w: contents per case must be a positive integer", store.ErrValidation)
	}
	if costPerCase < 0 {
		return 0, fmt.Errorf("%w: cost per case must not be negative", store.ErrValidation)
	}

	costPerPiece := decimal.NewFromInt(costPerCase).Div(decimal.NewFromInt(int64(contentsPerCase)))
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(p.MarginRate))
	return costPerPiece.Mul(factor).Round(0).IntPart(), nil
}

// DiscountTier grants Rate when the pre-discount total reaches Threshold.
type DiscountTier struct {
	Threshold int64
	Rate      float64
}

// DiscountPolicy holds the member discount tiers, highest threshold first.
// A single tier applies; tiers never stack.
type DiscountPolicy struct {
	Tiers []DiscountTier
}

func DefaultDiscountPolicy() DiscountPolicy {
	return DiscountPolicy{
		Tiers: []DiscountTier{
			{Threshold: 1_000_000, Rate: 0.10},
			{Threshold: 300_000, Rate: 0.05},
			{Threshold: 150_000, Rate: 0.02},
		},
	}
}

// RateFor returns the discount fraction for a pre-discount total. Non-members
// always get zero. Thresholds are inclusive.
func (d DiscountPolicy) RateFor(total int64, isMember bool) float64 {
	if !isMember {
		return 0
	}
	for _, tier := range d.Tiers {
		if total >= tier.Threshold {
			return tier.Rate
		}
	}
	return 0
}

// ApplyDiscount computes total * (1 - rate), rounded to whole rupiah.
func ApplyDiscount(total int64, rate float64) int64 {
	if rate <= 0 {
		return total
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(rate))
	return decimal.NewFromInt(total).Mul(factor).Round(0).IntPart()
}
