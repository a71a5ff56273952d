package services

import (
	"math"
	"testing"

	domain "github.com/cellstore/api/internal/domain"
)

type policyStub struct {
	policy domain.PricingPolicy
}

func (s policyStub) Policy() domain.PricingPolicy { return s.policy }

func testPolicy() domain.PricingPolicy {
	return domain.PricingPolicy{
		LegacyRate:            90,
		LegacyThreshold:       2000,
		StandardShippingRate:  49,
		ExpressRate:           99,
		FreeShippingThreshold: 999,
		TaxRatePercent:        0,
	}
}

func newTestPricingEngine(t *testing.T, policy domain.PricingPolicy) PricingService {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{Policy: policyStub{policy: policy}})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}
	return engine
}

func TestNormalizeConvertsLegacyAmounts(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	if got := engine.Normalize(4500); got != 50 {
		t.Fatalf("Normalize(4500) = %v, want 50", got)
	}
	if got := engine.Normalize(2000.01); got != 22.22 {
		t.Fatalf("Normalize(2000.01) = %v, want 22.22", got)
	}
}

func TestNormalizeLeavesModernAmountsAlone(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	if got := engine.Normalize(1999.999); got != 2000 {
		t.Fatalf("Normalize(1999.999) = %v, want 2000", got)
	}
	if got := engine.Normalize(49.99); got != 49.99 {
		t.Fatalf("Normalize(49.99) = %v, want 49.99", got)
	}

	// Normalizing an already-normalized amount is a no-op.
	once := engine.Normalize(4500)
	if got := engine.Normalize(once); got != once {
		t.Fatalf("Normalize(%v) = %v, want idempotent result", once, got)
	}
}

func TestNormalizeThresholdBoundary(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	// A price exactly at the threshold is modern and must not convert.
	if got := engine.Normalize(2000); got != 2000 {
		t.Fatalf("Normalize(2000) = %v, want 2000", got)
	}

	// Rounding can land exactly on the threshold; a second pass must not
	// convert the result.
	first := engine.Normalize(1999.999)
	if first != 2000 {
		t.Fatalf("Normalize(1999.999) = %v, want 2000", first)
	}
	if got := engine.Normalize(first); got != first {
		t.Fatalf("Normalize(%v) = %v, want idempotent result", first, got)
	}
}

func TestNormalizeZeroesNonFiniteInput(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := engine.Normalize(amount); got != 0 {
			t.Fatalf("Normalize(%v) = %v, want 0", amount, got)
		}
	}
}

func TestNormalizeDisabledThreshold(t *testing.T) {
	policy := testPolicy()
	policy.LegacyThreshold = 0
	engine := newTestPricingEngine(t, policy)

	if got := engine.Normalize(4500); got != 4500 {
		t.Fatalf("Normalize(4500) with disabled threshold = %v, want 4500", got)
	}
}

func TestTotalsClampsDiscountToSubtotal(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	totals := engine.Totals(TotalsCommand{Subtotal: 100, Discount: 250, ShippingOption: domain.ShippingStandard})
	if totals.Discount != 100 {
		t.Fatalf("Discount = %v, want 100", totals.Discount)
	}
	if totals.GrandTotal != 49 {
		t.Fatalf("GrandTotal = %v, want shipping only (49)", totals.GrandTotal)
	}
}

func TestTotalsFreeShippingThreshold(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	under := engine.Totals(TotalsCommand{Subtotal: 998.99, ShippingOption: domain.ShippingStandard})
	if under.Shipping != 49 {
		t.Fatalf("Shipping under threshold = %v, want 49", under.Shipping)
	}

	over := engine.Totals(TotalsCommand{Subtotal: 999, ShippingOption: domain.ShippingStandard})
	if over.Shipping != 0 {
		t.Fatalf("Shipping at threshold = %v, want 0", over.Shipping)
	}
	if over.GrandTotal != 999 {
		t.Fatalf("GrandTotal = %v, want 999", over.GrandTotal)
	}
}

func TestTotalsExpressAndPickup(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	express := engine.Totals(TotalsCommand{Subtotal: 1500, ShippingOption: domain.ShippingExpress})
	if express.Shipping != 99 {
		t.Fatalf("express Shipping = %v, want 99", express.Shipping)
	}

	pickup := engine.Totals(TotalsCommand{Subtotal: 10, ShippingOption: domain.ShippingPickup})
	if pickup.Shipping != 0 {
		t.Fatalf("pickup Shipping = %v, want 0", pickup.Shipping)
	}
}

func TestTotalsUnknownOptionDefaultsToStandard(t *testing.T) {
	engine := newTestPricingEngine(t, testPolicy())

	totals := engine.Totals(TotalsCommand{Subtotal: 100, ShippingOption: ShippingOption("drone")})
	if totals.Shipping != 49 {
		t.Fatalf("Shipping = %v, want 49", totals.Shipping)
	}
}

func TestTotalsTaxRoundsToWholeUnits(t *testing.T) {
	policy := testPolicy()
	policy.TaxRatePercent = 19
	engine := newTestPricingEngine(t, policy)

	totals := engine.Totals(TotalsCommand{Subtotal: 100, Discount: 10, ShippingOption: domain.ShippingPickup})
	// taxable 90, 19% = 17.1, rounds to 17.
	if totals.Tax != 17 {
		t.Fatalf("Tax = %v, want 17", totals.Tax)
	}
	if totals.GrandTotal != 107 {
		t.Fatalf("GrandTotal = %v, want 107", totals.GrandTotal)
	}
}

func TestTotalsLivePolicyRetune(t *testing.T) {
	source := &mutablePolicy{policy: testPolicy()}
	engine, err := NewPricingEngine(PricingEngineDeps{Policy: source})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}

	before := engine.Totals(TotalsCommand{Subtotal: 100, ShippingOption: domain.ShippingStandard})
	if before.Shipping != 49 {
		t.Fatalf("Shipping = %v, want 49", before.Shipping)
	}

	source.policy.StandardShippingRate = 59
	after := engine.Totals(TotalsCommand{Subtotal: 100, ShippingOption: domain.ShippingStandard})
	if after.Shipping != 59 {
		t.Fatalf("Shipping after retune = %v, want 59", after.Shipping)
	}
}

type mutablePolicy struct {
	policy domain.PricingPolicy
}

func (s *mutablePolicy) Policy() domain.PricingPolicy { return s.policy }
