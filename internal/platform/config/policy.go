package config

import (
	"os"

	"github.com/cellstore/api/internal/domain"
)

// PolicySource yields the pricing policy in effect at call time. Pricing and
// totals calculations read the source on every invocation so operators can
// retune rates without a restart.
type PolicySource interface {
	Policy() domain.PricingPolicy
}

// PolicySourceFunc adapts ordinary functions to PolicySource.
type PolicySourceFunc func() domain.PricingPolicy

// Policy returns the policy produced by the wrapped function.
func (f PolicySourceFunc) Policy() domain.PricingPolicy { return f() }

// StaticPolicy returns a PolicySource that always yields p. Intended for tests
// and for deployments that prefer load-time snapshots.
func StaticPolicy(p domain.PricingPolicy) PolicySource {
	return PolicySourceFunc(func() domain.PricingPolicy { return p })
}

// EnvPolicy returns a PolicySource backed by the process environment. Each
// call re-reads the pricing variables and falls back to the defaults for any
// that are unset or malformed.
func EnvPolicy() PolicySource {
	lookup := func(key string) (string, bool) {
		return os.LookupEnv(key)
	}
	return PolicySourceFunc(func() domain.PricingPolicy {
		return readPolicy(lookup)
	})
}

func readPolicy(lookup func(string) (string, bool)) domain.PricingPolicy {
	standard := floatWithDefault(lookup, "API_PRICING_SHIPPING_STANDARD", defaultStandardShippingRate)
	return domain.PricingPolicy{
		LegacyRate:            floatWithDefault(lookup, "API_PRICING_LEGACY_RATE", defaultLegacyRate),
		LegacyThreshold:       floatWithDefault(lookup, "API_PRICING_LEGACY_THRESHOLD", defaultLegacyThreshold),
		StandardShippingRate:  standard,
		ExpressRate:           floatWithDefault(lookup, "API_PRICING_SHIPPING_EXPRESS", standard+defaultExpressMarkup),
		FreeShippingThreshold: floatWithDefault(lookup, "API_PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShippingThreshold),
		TaxRatePercent:        floatWithDefault(lookup, "API_PRICING_TAX_RATE", defaultTaxRatePercent),
	}
}
