package domain

// PricingPolicy captures the tunable pricing knobs read from the environment.
// LegacyThreshold of zero or less disables legacy price conversion.
type PricingPolicy struct {
	LegacyRate            float64
	LegacyThreshold       float64
	StandardShippingRate  float64
	ExpressRate           float64
	FreeShippingThreshold float64
	TaxRatePercent        float64
}

// OrderTotals captures the aggregated monetary results of pricing a checkout.
type OrderTotals struct {
	Subtotal   float64
	Discount   float64
	CouponCode string
	Shipping   float64
	Tax        float64
	GrandTotal float64
}

// CouponResult is the outcome of evaluating a coupon code against a subtotal.
type CouponResult struct {
	Code     string
	Type     CouponType
	Discount float64
}
