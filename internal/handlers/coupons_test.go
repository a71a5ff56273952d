package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/services"
)

type stubCouponService struct {
	evaluateFunc func(ctx context.Context, code string, subtotal float64) (services.CouponResult, error)
}

func (s *stubCouponService) Evaluate(ctx context.Context, code string, subtotal float64) (services.CouponResult, error) {
	if s.evaluateFunc == nil {
		return services.CouponResult{}, nil
	}
	return s.evaluateFunc(ctx, code, subtotal)
}

func newCouponRouter(service services.CouponService) chi.Router {
	handler := NewCouponHandlers(service)
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)
	return router
}

func TestCouponHandlersValidate(t *testing.T) {
	service := &stubCouponService{
		evaluateFunc: func(ctx context.Context, code string, subtotal float64) (services.CouponResult, error) {
			if code != "WELCOME10" || subtotal != 120 {
				t.Fatalf("unexpected args %q %v", code, subtotal)
			}
			return services.CouponResult{Code: "WELCOME10", Type: domain.CouponTypePercent, Discount: 12}, nil
		},
	}

	router := newCouponRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/public/coupons/validate", strings.NewReader(`{"code":"WELCOME10","subtotal":120}`))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp validateCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Discount != 12 || resp.Type != "percent" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCouponHandlersValidateRejectsMissingCode(t *testing.T) {
	router := newCouponRouter(&stubCouponService{})
	req := httptest.NewRequest(http.MethodPost, "/public/coupons/validate", strings.NewReader(`{"subtotal":50}`))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateRejectsNegativeSubtotal(t *testing.T) {
	router := newCouponRouter(&stubCouponService{})
	req := httptest.NewRequest(http.MethodPost, "/public/coupons/validate", strings.NewReader(`{"code":"X","subtotal":-1}`))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"invalid", services.ErrCouponInvalid, "coupon_invalid"},
		{"expired", services.ErrCouponExpired, "coupon_expired"},
		{"minimum", services.ErrCouponMinimumNotMet, "coupon_minimum_not_met"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCouponService{
				evaluateFunc: func(ctx context.Context, code string, subtotal float64) (services.CouponResult, error) {
					return services.CouponResult{}, tc.err
				},
			}

			router := newCouponRouter(service)
			req := httptest.NewRequest(http.MethodPost, "/public/coupons/validate", strings.NewReader(`{"code":"X","subtotal":10}`))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("expected code %q in body, got %s", tc.code, rr.Body.String())
			}
		})
	}
}

func TestCouponHandlersRateLimitsLookups(t *testing.T) {
	handler := NewCouponHandlers(&stubCouponService{})
	handler.limiter = newWindowRateLimiter(2, couponLookupWindow, nil)

	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/public/coupons/validate", strings.NewReader(`{"code":"X","subtotal":10}`))
		req.RemoteAddr = "203.0.113.7:4411"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 on third lookup, got %d", last)
	}
}
