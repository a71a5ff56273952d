package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/payments"
	"github.com/cellstore/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutAddressIncomplete indicates a required address field is empty.
	ErrCheckoutAddressIncomplete = errors.New("checkout: address incomplete")
	// ErrCheckoutPaymentRequired indicates a card order arrived without a payment intent.
	ErrCheckoutPaymentRequired = errors.New("checkout: payment intent required")
	// ErrCheckoutPaymentNotConfirmed indicates the referenced intent has not succeeded.
	ErrCheckoutPaymentNotConfirmed = errors.New("checkout: payment not confirmed")
)

// CheckoutServiceDeps bundles the collaborators required to construct a checkout service.
type CheckoutServiceDeps struct {
	Cart      CartService
	Coupons   CouponService
	Pricing   PricingService
	Orders    repositories.OrderRepository
	Payments  payments.Provider
	Inventory InventoryService
	Events    OrderEventPublisher
	Currency  string
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	cart      CartService
	coupons   CouponService
	pricing   PricingService
	orders    repositories.OrderRepository
	payments  payments.Provider
	inventory InventoryService
	events    OrderEventPublisher
	currency  string
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "EUR"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		cart:      deps.Cart,
		coupons:   deps.Coupons,
		pricing:   deps.Pricing,
		orders:    deps.Orders,
		payments:  deps.Payments,
		inventory: deps.Inventory,
		events:    deps.Events,
		currency:  currency,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

var _ CheckoutService = (*checkoutService)(nil)

// Quote previews checkout totals for the current cart without side effects.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	snapshot, result, err := s.priceCart(ctx, cmd.UserID, cmd.CouponCode)
	if err != nil {
		return Quote{}, err
	}

	totals := s.totalsFor(snapshot, result, cmd.ShippingOption)
	return Quote{Items: snapshot.Items, Totals: totals}, nil
}

// CreatePaymentIntent opens a PSP intent for the amount the cart would settle
// at. The client confirms it browser-side and hands the intent id back to
// PlaceOrder.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error) {
	if s.payments == nil {
		return PaymentIntent{}, payments.ErrProviderUnavailable
	}

	snapshot, result, err := s.priceCart(ctx, cmd.UserID, cmd.CouponCode)
	if err != nil {
		return PaymentIntent{}, err
	}
	totals := s.totalsFor(snapshot, result, cmd.ShippingOption)

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = checkoutFingerprint(snapshot)
	}

	intent, err := s.payments.CreateIntent(ctx, payments.IntentRequest{
		Amount:         totals.GrandTotal,
		Currency:       s.currency,
		CustomerRef:    snapshot.UserID,
		IdempotencyKey: key,
		Metadata:       map[string]string{"userId": snapshot.UserID},
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	return PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       totals.GrandTotal,
		Currency:     s.currency,
	}, nil
}

// PlaceOrder finalises checkout: snapshot, coupon, totals, then the composite
// transaction that inserts the order, decrements stock, and clears the cart.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if !cmd.Address.Complete() {
		return Order{}, ErrCheckoutAddressIncomplete
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodCOD:
	default:
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	snapshot, result, err := s.priceCart(ctx, userID, cmd.CouponCode)
	if err != nil {
		return Order{}, err
	}
	totals := s.totalsFor(snapshot, result, cmd.ShippingOption)

	status := domain.OrderStatusPending
	if cmd.PaymentMethod == domain.PaymentMethodCard {
		if err := s.verifyPayment(ctx, cmd.PaymentIntentID); err != nil {
			return Order{}, err
		}
		status = domain.OrderStatusPaid
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = checkoutFingerprint(snapshot)
	}

	now := s.clock()
	option := cmd.ShippingOption
	if option == "" {
		option = domain.ShippingStandard
	}
	order := domain.Order{
		ID:              orderIDFromKey(key),
		UserID:          userID,
		Items:           snapshot.Items,
		Address:         cmd.Address,
		Totals:          totals,
		ShippingOption:  option,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentIntentID: strings.TrimSpace(cmd.PaymentIntentID),
		Status:          status,
		StatusHistory:   []domain.StatusChange{{Status: status, At: now}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	deltas, err := stockDeltas(order.Items, -1)
	if err != nil {
		return Order{}, err
	}

	if err := s.orders.CreateWithInventory(ctx, order, deltas); err != nil {
		if existing, ok := s.replayExisting(ctx, order.ID, userID, err); ok {
			return existing, nil
		}
		return Order{}, s.mapCreateError(err)
	}

	if s.inventory != nil {
		s.inventory.RecordDecremented(ctx, order.ID, order.Items)
	}
	s.emitCreated(ctx, order)
	return order, nil
}

// priceCart runs the snapshot and optional coupon evaluation shared by all
// three checkout entry points.
func (s *checkoutService) priceCart(ctx context.Context, userID, couponCode string) (CartSnapshot, CouponResult, error) {
	snapshot, err := s.cart.Snapshot(ctx, strings.TrimSpace(userID))
	if err != nil {
		return CartSnapshot{}, CouponResult{}, err
	}

	var result CouponResult
	if code := strings.TrimSpace(couponCode); code != "" {
		result, err = s.coupons.Evaluate(ctx, code, snapshot.Subtotal)
		if err != nil {
			return CartSnapshot{}, CouponResult{}, err
		}
	}
	return snapshot, result, nil
}

func (s *checkoutService) totalsFor(snapshot CartSnapshot, coupon CouponResult, option ShippingOption) OrderTotals {
	totals := s.pricing.Totals(TotalsCommand{
		Subtotal:       snapshot.Subtotal,
		Discount:       coupon.Discount,
		ShippingOption: option,
	})
	totals.CouponCode = coupon.Code
	return totals
}

// verifyPayment confirms the intent actually succeeded before the order is
// written. "Payment confirmed, order write failed" stays retryable because the
// intent id is stored on the order and the write is idempotent per order id.
func (s *checkoutService) verifyPayment(ctx context.Context, intentID string) error {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return ErrCheckoutPaymentRequired
	}
	if s.payments == nil {
		return payments.ErrProviderUnavailable
	}

	intent, err := s.payments.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status != payments.StatusSucceeded {
		return fmt.Errorf("%w: intent %s is %s", ErrCheckoutPaymentNotConfirmed, intentID, intent.Status)
	}
	return nil
}

func (s *checkoutService) mapCreateError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient {
		// A concurrent checkout won the race for the last units.
		return &InsufficientStockError{
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		}
	}
	return err
}

func (s *checkoutService) emitCreated(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		Event:      eventOrderCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		GrandTotal: order.Totals.GrandTotal,
		OccurredAt: s.clock(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"event":   eventOrderCreated,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// checkoutFingerprint derives a stable idempotency key from the cart content,
// so a retried intent request for the same cart reuses the PSP intent.
func checkoutFingerprint(snapshot CartSnapshot) string {
	h := sha256.New()
	h.Write([]byte(snapshot.UserID))
	for _, item := range snapshot.Items {
		fmt.Fprintf(h, "|%s:%d:%.2f:%s:%s", item.ProductID, item.Quantity, item.UnitPrice, item.Variant.Size, item.Variant.Color)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// orderIDFromKey maps the placement idempotency key onto a fixed order id, so
// a retried PlaceOrder lands on the same document instead of a duplicate.
func orderIDFromKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	var id ulid.ULID
	copy(id[:], sum[:])
	return orderIDPrefix + id.String()
}

// replayExisting resolves a create conflict as an idempotent retry: when the
// derived order id already exists and belongs to the same user, the stored
// order is returned and no events are re-emitted.
func (s *checkoutService) replayExisting(ctx context.Context, orderID, userID string, createErr error) (Order, bool) {
	var repoErr repositories.RepositoryError
	if !errors.As(createErr, &repoErr) || !repoErr.IsConflict() {
		return Order{}, false
	}
	existing, err := s.orders.FindByID(ctx, orderID)
	if err != nil || existing.UserID != userID {
		return Order{}, false
	}
	s.logger(ctx, "checkout_order_replayed", map[string]any{"orderId": orderID})
	return existing, true
}
