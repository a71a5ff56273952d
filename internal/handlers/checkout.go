package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cellstore/api/internal/payments"
	"github.com/cellstore/api/internal/platform/auth"
	"github.com/cellstore/api/internal/platform/httpx"
	"github.com/cellstore/api/internal/services"
)

// CheckoutHandlers exposes quoting, payment intent, and order placement endpoints.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

const (
	maxCheckoutBodySize  = 32 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

// NewCheckoutHandlers constructs handlers enforcing Firebase authentication before invoking the checkout service.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/quote", h.quote)
	r.Post("/payment-intent", h.createPaymentIntent)
	r.Post("/place", h.placeOrder)
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req quoteRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	quote, err := h.checkout.Quote(ctx, services.QuoteCommand{
		UserID:         identity.UID,
		CouponCode:     strings.TrimSpace(req.CouponCode),
		ShippingOption: services.ShippingOption(strings.TrimSpace(req.ShippingOption)),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, quoteResponse{
		Items:  buildOrderItemPayloads(quote.Items),
		Totals: buildTotalsPayload(quote.Totals),
	})
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req quoteRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	intent, err := h.checkout.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		UserID:         identity.UID,
		CouponCode:     strings.TrimSpace(req.CouponCode),
		ShippingOption: services.ShippingOption(strings.TrimSpace(req.ShippingOption)),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentIntentResponse{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID: identity.UID,
		Address: services.Address{
			Name:    strings.TrimSpace(req.Address.Name),
			Phone:   strings.TrimSpace(req.Address.Phone),
			Street:  strings.TrimSpace(req.Address.Street),
			City:    strings.TrimSpace(req.Address.City),
			Pincode: strings.TrimSpace(req.Address.Pincode),
		},
		ShippingOption:  services.ShippingOption(strings.TrimSpace(req.ShippingOption)),
		PaymentMethod:   services.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAddressIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("address_incomplete", "delivery address is incomplete", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", "a payment intent is required for card orders", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentNotConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_confirmed", "payment has not been confirmed", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon code has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order total does not meet the coupon minimum", http.StatusUnprocessableEntity))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock", http.StatusConflict))
	case errors.Is(err, payments.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "payment provider is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout operation failed", http.StatusInternalServerError))
	}
}

type quoteRequest struct {
	CouponCode     string `json:"coupon_code"`
	ShippingOption string `json:"shipping_option"`
}

type quoteResponse struct {
	Items  []orderItemPayload `json:"items"`
	Totals totalsPayload      `json:"totals"`
}

type paymentIntentResponse struct {
	ID           string  `json:"id"`
	ClientSecret string  `json:"client_secret"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}

type placeOrderRequest struct {
	Address         addressPayload `json:"address"`
	ShippingOption  string         `json:"shipping_option"`
	PaymentMethod   string         `json:"payment_method"`
	CouponCode      string         `json:"coupon_code"`
	PaymentIntentID string         `json:"payment_intent_id"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}
