package services

import (
	"errors"
	"math"

	domain "github.com/cellstore/api/internal/domain"
)

// pricingEngine normalizes stored prices and computes checkout totals from the
// policy in effect at call time. It holds no state of its own so previews and
// committed orders always agree for the same inputs.
type pricingEngine struct {
	policy PolicySource
}

// PricingEngineDeps bundles the collaborators required to construct a pricing service.
type PricingEngineDeps struct {
	Policy PolicySource
}

// NewPricingEngine wires dependencies into a concrete PricingService implementation.
func NewPricingEngine(deps PricingEngineDeps) (PricingService, error) {
	if deps.Policy == nil {
		return nil, errors.New("pricing engine: policy source is required")
	}
	return &pricingEngine{policy: deps.Policy}, nil
}

var _ PricingService = (*pricingEngine)(nil)

// Normalize converts a stored price into the canonical currency. Amounts
// strictly above the legacy threshold were persisted in the old minor-unit
// scheme and are divided by the legacy rate; everything else only gets
// rounded. A second pass over an already-normalized amount is a no-op beyond
// rounding.
func (e *pricingEngine) Normalize(amount float64) float64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}

	policy := e.policy.Policy()
	if policy.LegacyThreshold > 0 && policy.LegacyRate > 0 && amount > policy.LegacyThreshold {
		amount /= policy.LegacyRate
	}
	return round2(amount)
}

// Totals computes the order money fields for a subtotal, a discount, and a
// shipping choice under the current policy.
func (e *pricingEngine) Totals(cmd TotalsCommand) OrderTotals {
	policy := e.policy.Policy()

	subtotal := round2(cmd.Subtotal)
	if subtotal < 0 {
		subtotal = 0
	}
	discount := round2(cmd.Discount)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	taxable := round2(subtotal - discount)
	shipping := shippingCost(policy, cmd.ShippingOption, taxable)

	// Tax rounds to whole currency units per the deployed fiscal policy.
	tax := math.Round(taxable * policy.TaxRatePercent / 100)

	return OrderTotals{
		Subtotal:   subtotal,
		Discount:   discount,
		Shipping:   shipping,
		Tax:        tax,
		GrandTotal: round2(taxable + tax + shipping),
	}
}

func shippingCost(policy domain.PricingPolicy, option ShippingOption, taxable float64) float64 {
	switch option {
	case domain.ShippingPickup:
		return 0
	case domain.ShippingExpress:
		// Express is a flat base rate, never discounted by the free threshold.
		return round2(policy.ExpressRate)
	default:
		// Unknown options ship standard.
		if policy.FreeShippingThreshold > 0 && taxable >= policy.FreeShippingThreshold {
			return 0
		}
		return round2(policy.StandardShippingRate)
	}
}

// round2 rounds half away from zero to two decimal places.
func round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}
