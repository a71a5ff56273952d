package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cellstore/api/internal/platform/httpx"
	"github.com/cellstore/api/internal/services"
)

// CouponHandlers exposes the public coupon preview endpoint. Lookups are rate
// limited per client to slow down code guessing.
type CouponHandlers struct {
	coupons services.CouponService
	limiter rateLimiter
}

const (
	maxCouponBodySize    = 4 * 1024
	couponLookupLimit    = 20
	couponLookupWindow   = time.Minute
	couponRateLimitedMsg = "too many coupon lookups; retry later"
)

// NewCouponHandlers constructs handlers for unauthenticated coupon previews.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{
		coupons: coupons,
		limiter: newWindowRateLimiter(couponLookupLimit, couponLookupWindow, time.Now),
	}
}

// Routes wires the coupon endpoints onto the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons/validate", h.validateCoupon)
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", couponRateLimitedMsg, http.StatusTooManyRequests))
		return
	}

	var req validateCouponRequest
	if err := decodeJSONBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}
	if req.Subtotal < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must not be negative", http.StatusBadRequest))
		return
	}

	result, err := h.coupons.Evaluate(ctx, code, req.Subtotal)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Code:     result.Code,
		Type:     string(result.Type),
		Discount: result.Discount,
	})
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon code has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order total does not meet the coupon minimum", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon lookup failed", http.StatusInternalServerError))
	}
}

func clientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

type validateCouponRequest struct {
	Code     string  `json:"code"`
	Subtotal float64 `json:"subtotal"`
}

type validateCouponResponse struct {
	Code     string  `json:"code"`
	Type     string  `json:"type"`
	Discount float64 `json:"discount"`
}
