package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/platform/auth"
	"github.com/cellstore/api/internal/services"
)

type stubCheckoutService struct {
	quoteFunc        func(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error)
	createIntentFunc func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error)
	placeOrderFunc   func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
	if s.quoteFunc == nil {
		return services.Quote{}, nil
	}
	return s.quoteFunc(ctx, cmd)
}

func (s *stubCheckoutService) CreatePaymentIntent(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error) {
	if s.createIntentFunc == nil {
		return services.PaymentIntent{}, nil
	}
	return s.createIntentFunc(ctx, cmd)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeOrderFunc == nil {
		return services.Order{}, nil
	}
	return s.placeOrderFunc(ctx, cmd)
}

func newCheckoutRouter(service services.CheckoutService) chi.Router {
	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)
	return router
}

func TestCheckoutHandlersQuote(t *testing.T) {
	service := &stubCheckoutService{
		quoteFunc: func(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.CouponCode != "WELCOME10" {
				t.Fatalf("unexpected coupon %q", cmd.CouponCode)
			}
			if cmd.ShippingOption != domain.ShippingExpress {
				t.Fatalf("unexpected shipping option %q", cmd.ShippingOption)
			}
			return services.Quote{
				Items: []services.OrderItem{
					{ProductID: "prod-1", Name: "Graphite Case", Quantity: 2, UnitPrice: 60},
				},
				Totals: services.OrderTotals{
					Subtotal:   120,
					Discount:   12,
					CouponCode: "WELCOME10",
					Shipping:   99,
					GrandTotal: 207,
				},
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{"coupon_code":"WELCOME10","shipping_option":"express"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/quote", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp quoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].LineTotal != 120 {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.Totals.GrandTotal != 207 {
		t.Fatalf("expected grand total 207, got %v", resp.Totals.GrandTotal)
	}
}

func TestCheckoutHandlersQuoteAllowsEmptyBody(t *testing.T) {
	service := &stubCheckoutService{
		quoteFunc: func(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
			if cmd.CouponCode != "" || cmd.ShippingOption != "" {
				t.Fatalf("expected zero command fields, got %+v", cmd)
			}
			return services.Quote{}, nil
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout/quote", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersQuoteEmptyCart(t *testing.T) {
	service := &stubCheckoutService{
		quoteFunc: func(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
			return services.Quote{}, services.ErrCartEmpty
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout/quote", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cart_empty") {
		t.Fatalf("expected cart_empty code, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersCreatePaymentIntentForwardsKey(t *testing.T) {
	service := &stubCheckoutService{
		createIntentFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntent, error) {
			if cmd.IdempotencyKey != "key-123" {
				t.Fatalf("expected idempotency key key-123, got %q", cmd.IdempotencyKey)
			}
			return services.PaymentIntent{
				ID:           "pi_1",
				ClientSecret: "pi_1_secret",
				Amount:       169,
				Currency:     "EUR",
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/checkout/payment-intent", strings.NewReader(`{}`))
	req.Header.Set(idempotencyKeyHeader, "key-123")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp paymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "pi_1" || resp.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent %+v", resp)
	}
	if resp.Amount != 169 || resp.Currency != "EUR" {
		t.Fatalf("unexpected amount payload %+v", resp)
	}
}

func TestCheckoutHandlersPlaceOrder(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	service := &stubCheckoutService{
		placeOrderFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if !cmd.Address.Complete() {
				t.Fatalf("expected complete address, got %+v", cmd.Address)
			}
			if cmd.PaymentMethod != domain.PaymentMethodCard {
				t.Fatalf("unexpected payment method %q", cmd.PaymentMethod)
			}
			if cmd.PaymentIntentID != "pi_1" {
				t.Fatalf("unexpected intent id %q", cmd.PaymentIntentID)
			}
			return services.Order{
				ID:     "ord_1",
				UserID: cmd.UserID,
				Status: domain.OrderStatusPaid,
				StatusHistory: []services.StatusChange{
					{Status: domain.OrderStatusPaid, At: now},
				},
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		},
	}

	router := newCheckoutRouter(service)
	body := `{
		"address":{"name":"Dana","phone":"555-0110","street":"1 Main St","city":"Lisbon","pincode":"1000-001"},
		"shipping_option":"standard",
		"payment_method":"card",
		"payment_intent_id":"pi_1"
	}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "paid" {
		t.Fatalf("unexpected order %+v", resp.Order)
	}
	if len(resp.Order.StatusHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(resp.Order.StatusHistory))
	}
}

func TestCheckoutHandlersPlaceOrderRequiresBody(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})
	req := httptest.NewRequest(http.MethodPost, "/checkout/place", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPlaceOrderPaymentNotConfirmed(t *testing.T) {
	service := &stubCheckoutService{
		placeOrderFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrCheckoutPaymentNotConfirmed
		},
	}

	router := newCheckoutRouter(service)
	body := `{"address":{"name":"Dana","phone":"555-0110","street":"1 Main St","city":"Lisbon","pincode":"1000-001"},"payment_method":"card","payment_intent_id":"pi_1"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPlaceOrderStockConflict(t *testing.T) {
	service := &stubCheckoutService{
		placeOrderFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			return services.Order{}, &services.InsufficientStockError{ProductID: "prod-2", Requested: 1, Available: 0}
		},
	}

	router := newCheckoutRouter(service)
	body := `{"address":{"name":"Dana","phone":"555-0110","street":"1 Main St","city":"Lisbon","pincode":"1000-001"},"payment_method":"cod"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/place", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "prod-2") {
		t.Fatalf("expected product detail in body, got %s", rr.Body.String())
	}
}

func TestCheckoutHandlersRequireAuth(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{})
	for _, target := range []string{"/checkout/quote", "/checkout/payment-intent", "/checkout/place"} {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401 for %s, got %d", target, rr.Code)
		}
	}
}
