package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/payments"
	"github.com/cellstore/api/internal/repositories"
)

type cartServiceStub struct {
	snapshot func(ctx context.Context, userID string) (CartSnapshot, error)
}

func (s *cartServiceStub) GetCart(context.Context, string) (CartView, error) {
	return CartView{}, errors.New("unexpected GetCart call")
}

func (s *cartServiceStub) AddItem(context.Context, AddCartItemCommand) (CartView, error) {
	return CartView{}, errors.New("unexpected AddItem call")
}

func (s *cartServiceStub) UpdateQuantity(context.Context, UpdateCartQuantityCommand) (CartView, error) {
	return CartView{}, errors.New("unexpected UpdateQuantity call")
}

func (s *cartServiceStub) RemoveItem(context.Context, RemoveCartItemCommand) (CartView, error) {
	return CartView{}, errors.New("unexpected RemoveItem call")
}

func (s *cartServiceStub) ClearCart(context.Context, string) error {
	return errors.New("unexpected ClearCart call")
}

func (s *cartServiceStub) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	if s.snapshot == nil {
		return CartSnapshot{}, ErrCartEmpty
	}
	return s.snapshot(ctx, userID)
}

type couponServiceStub struct {
	evaluate func(ctx context.Context, code string, subtotal float64) (CouponResult, error)
}

func (s *couponServiceStub) Evaluate(ctx context.Context, code string, subtotal float64) (CouponResult, error) {
	if s.evaluate == nil {
		return CouponResult{}, ErrCouponInvalid
	}
	return s.evaluate(ctx, code, subtotal)
}

type paymentProviderStub struct {
	createIntent func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	getIntent    func(ctx context.Context, intentID string) (payments.Intent, error)
}

func (s *paymentProviderStub) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if s.createIntent == nil {
		return payments.Intent{}, errors.New("unexpected CreateIntent call")
	}
	return s.createIntent(ctx, req)
}

func (s *paymentProviderStub) GetIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if s.getIntent == nil {
		return payments.Intent{}, errors.New("unexpected GetIntent call")
	}
	return s.getIntent(ctx, intentID)
}

type inventoryLedgerStub struct {
	recordDecremented func(ctx context.Context, orderID string, lines []OrderItem)
	recordRestored    func(ctx context.Context, orderID string, lines []OrderItem)
}

func (s *inventoryLedgerStub) Decrement(context.Context, InventoryAdjustCommand) error {
	return errors.New("unexpected Decrement call")
}

func (s *inventoryLedgerStub) Restore(context.Context, InventoryAdjustCommand) error {
	return errors.New("unexpected Restore call")
}

func (s *inventoryLedgerStub) RecordDecremented(ctx context.Context, orderID string, lines []OrderItem) {
	if s.recordDecremented != nil {
		s.recordDecremented(ctx, orderID, lines)
	}
}

func (s *inventoryLedgerStub) RecordRestored(ctx context.Context, orderID string, lines []OrderItem) {
	if s.recordRestored != nil {
		s.recordRestored(ctx, orderID, lines)
	}
}

func checkoutSnapshot(now time.Time) CartSnapshot {
	return CartSnapshot{
		UserID: "user-1",
		Items: []OrderItem{
			{ProductID: "prod-1", Name: "Tee", Quantity: 2, UnitPrice: 50},
			{ProductID: "prod-2", Name: "Cap", Quantity: 1, UnitPrice: 20},
		},
		Subtotal: 120,
		TakenAt:  now,
	}
}

func testAddress() domain.Address {
	return domain.Address{Name: "Ada", Phone: "12345", Street: "1 Main St", City: "Metropolis", Pincode: "10001"}
}

type checkoutFixture struct {
	cart      *cartServiceStub
	coupons   *couponServiceStub
	orders    *orderRepoStub
	payments  *paymentProviderStub
	inventory *inventoryLedgerStub
	events    *orderPublisherStub
}

func newTestCheckoutService(t *testing.T, fx checkoutFixture, now time.Time) CheckoutService {
	t.Helper()
	pricing, err := NewPricingEngine(PricingEngineDeps{Policy: policyStub{policy: testPolicy()}})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}
	if fx.cart == nil {
		fx.cart = &cartServiceStub{}
	}
	if fx.coupons == nil {
		fx.coupons = &couponServiceStub{}
	}
	if fx.orders == nil {
		fx.orders = &orderRepoStub{}
	}

	deps := CheckoutServiceDeps{
		Cart:     fx.cart,
		Coupons:  fx.coupons,
		Pricing:  pricing,
		Orders:   fx.orders,
		Currency: "EUR",
		Clock:    fixedClock(now),
	}
	if fx.payments != nil {
		deps.Payments = fx.payments
	}
	if fx.inventory != nil {
		deps.Inventory = fx.inventory
	}
	if fx.events != nil {
		deps.Events = fx.events
	}

	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService returned error: %v", err)
	}
	return svc
}

func TestCheckoutQuoteWithCoupon(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(_ context.Context, userID string) (CartSnapshot, error) {
				if userID != "user-1" {
					t.Fatalf("snapshot user = %q, want user-1", userID)
				}
				return checkoutSnapshot(now), nil
			},
		},
		coupons: &couponServiceStub{
			evaluate: func(_ context.Context, code string, subtotal float64) (CouponResult, error) {
				if code != "SAVE10" || subtotal != 120 {
					t.Fatalf("Evaluate(%q, %v), want SAVE10 over 120", code, subtotal)
				}
				return CouponResult{Code: "SAVE10", Type: domain.CouponTypePercent, Discount: 12}, nil
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	quote, err := svc.Quote(context.Background(), QuoteCommand{UserID: "user-1", CouponCode: "SAVE10", ShippingOption: domain.ShippingStandard})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}

	if quote.Totals.Discount != 12 || quote.Totals.CouponCode != "SAVE10" {
		t.Fatalf("Totals = %+v, want 12 discount from SAVE10", quote.Totals)
	}
	// taxable 108 is under the free shipping threshold.
	if quote.Totals.Shipping != 49 || quote.Totals.GrandTotal != 157 {
		t.Fatalf("Totals = %+v, want shipping 49 and total 157", quote.Totals)
	}
	if len(quote.Items) != 2 {
		t.Fatalf("Items = %+v, want 2 lines", quote.Items)
	}
}

func TestCheckoutCreatePaymentIntentDerivesIdempotencyKey(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	var gotReq payments.IntentRequest
	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		payments: &paymentProviderStub{
			createIntent: func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
				gotReq = req
				return payments.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: payments.StatusPending}, nil
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	intent, err := svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentCommand{UserID: "user-1", ShippingOption: domain.ShippingStandard})
	if err != nil {
		t.Fatalf("CreatePaymentIntent returned error: %v", err)
	}

	if gotReq.IdempotencyKey == "" {
		t.Fatal("IdempotencyKey not derived from cart fingerprint")
	}
	if gotReq.Amount != 169 {
		t.Fatalf("Amount = %v, want 169 (subtotal 120 + shipping 49)", gotReq.Amount)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("intent = %+v, want pi_1", intent)
	}
}

func TestCheckoutPlaceOrderCardHappyPath(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	var created domain.Order
	var deltas []repositories.StockDelta
	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		orders: &orderRepoStub{
			createWithInventory: func(_ context.Context, order domain.Order, d []repositories.StockDelta) error {
				created = order
				deltas = d
				return nil
			},
		},
		payments: &paymentProviderStub{
			getIntent: func(_ context.Context, intentID string) (payments.Intent, error) {
				if intentID != "pi_1" {
					t.Fatalf("GetIntent id = %q, want pi_1", intentID)
				}
				return payments.Intent{ID: "pi_1", Status: payments.StatusSucceeded}, nil
			},
		},
		events: &orderPublisherStub{},
	}

	svc := newTestCheckoutService(t, fx, now)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Address:         testAddress(),
		ShippingOption:  domain.ShippingStandard,
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentIntentID: "pi_1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	wantID := orderIDFromKey(checkoutFingerprint(checkoutSnapshot(now)))
	if order.ID != wantID {
		t.Fatalf("ID = %q, want %q derived from the cart fingerprint", order.ID, wantID)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("Status = %s, want paid for card", order.Status)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusPaid {
		t.Fatalf("StatusHistory = %+v, want single paid entry", order.StatusHistory)
	}
	if created.PaymentIntentID != "pi_1" {
		t.Fatalf("persisted PaymentIntentID = %q, want pi_1", created.PaymentIntentID)
	}
	want := []repositories.StockDelta{{ProductID: "prod-1", Delta: -2}, {ProductID: "prod-2", Delta: -1}}
	if len(deltas) != 2 || deltas[0] != want[0] || deltas[1] != want[1] {
		t.Fatalf("deltas = %+v, want %+v", deltas, want)
	}
}

func TestCheckoutPlaceOrderCODStartsPending(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("Status = %s, want pending for cod", order.Status)
	}
	if order.ShippingOption != domain.ShippingStandard {
		t.Fatalf("ShippingOption = %s, want standard default", order.ShippingOption)
	}
}

func TestCheckoutPlaceOrderValidation(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)
	svc := newTestCheckoutService(t, checkoutFixture{}, now)

	incomplete := testAddress()
	incomplete.Pincode = ""
	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u", Address: incomplete, PaymentMethod: domain.PaymentMethodCOD}); !errors.Is(err, ErrCheckoutAddressIncomplete) {
		t.Fatalf("incomplete address error = %v, want ErrCheckoutAddressIncomplete", err)
	}

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: "u", Address: testAddress(), PaymentMethod: domain.PaymentMethod("crypto")}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("unknown method error = %v, want ErrCheckoutInvalidInput", err)
	}
}

func TestCheckoutPlaceOrderCardRequiresConfirmedIntent(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		payments: &paymentProviderStub{
			getIntent: func(context.Context, string) (payments.Intent, error) {
				return payments.Intent{ID: "pi_1", Status: payments.StatusPending}, nil
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCard,
	}); !errors.Is(err, ErrCheckoutPaymentRequired) {
		t.Fatalf("missing intent error = %v, want ErrCheckoutPaymentRequired", err)
	}

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Address:         testAddress(),
		PaymentMethod:   domain.PaymentMethodCard,
		PaymentIntentID: "pi_1",
	}); !errors.Is(err, ErrCheckoutPaymentNotConfirmed) {
		t.Fatalf("unconfirmed intent error = %v, want ErrCheckoutPaymentNotConfirmed", err)
	}
}

func TestCheckoutPlaceOrderLostStockRace(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		orders: &orderRepoStub{
			createWithInventory: func(context.Context, domain.Order, []repositories.StockDelta) error {
				return &repositories.StockError{
					Code:      repositories.StockErrorInsufficient,
					ProductID: "prod-1",
					Requested: 2,
					Available: 1,
					Message:   "insufficient stock for prod-1",
				}
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != "prod-1" {
		t.Fatalf("lost race error = %v, want InsufficientStockError for prod-1", err)
	}
	if stockErr.Requested != 2 || stockErr.Available != 1 {
		t.Fatalf("stock error = %+v, want requested 2 and available 1 carried through", stockErr)
	}
}

func TestCheckoutPlaceOrderRecordsStockDecrement(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	var recordedOrder string
	var recordedLines []OrderItem
	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		inventory: &inventoryLedgerStub{
			recordDecremented: func(_ context.Context, orderID string, lines []OrderItem) {
				recordedOrder = orderID
				recordedLines = lines
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if recordedOrder != order.ID {
		t.Fatalf("recorded order = %q, want %q", recordedOrder, order.ID)
	}
	if len(recordedLines) != 2 {
		t.Fatalf("recorded %d lines, want 2", len(recordedLines))
	}
}

func TestCheckoutLostStockRaceRecordsNothing(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		orders: &orderRepoStub{
			createWithInventory: func(context.Context, domain.Order, []repositories.StockDelta) error {
				return repositories.NewStockError(repositories.StockErrorInsufficient, "prod-1", "stock would go negative", nil)
			},
		},
		inventory: &inventoryLedgerStub{
			recordDecremented: func(context.Context, string, []OrderItem) {
				t.Fatal("RecordDecremented called for a rejected order")
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	}); err == nil {
		t.Fatal("PlaceOrder succeeded, want stock error")
	}
}

type conflictErr struct{}

func (conflictErr) Error() string       { return "already exists" }
func (conflictErr) IsNotFound() bool    { return false }
func (conflictErr) IsConflict() bool    { return true }
func (conflictErr) IsUnavailable() bool { return false }

func TestCheckoutPlaceOrderRetryReplaysExistingOrder(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	var stored domain.Order
	createCalls := 0
	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		orders: &orderRepoStub{
			createWithInventory: func(_ context.Context, order domain.Order, _ []repositories.StockDelta) error {
				createCalls++
				if createCalls > 1 {
					return conflictErr{}
				}
				stored = order
				return nil
			},
			findByID: func(_ context.Context, orderID string) (domain.Order, error) {
				if orderID != stored.ID {
					t.Fatalf("FindByID(%q), want %q", orderID, stored.ID)
				}
				return stored, nil
			},
		},
		inventory: &inventoryLedgerStub{},
	}
	decrements := 0
	fx.inventory.recordDecremented = func(context.Context, string, []OrderItem) { decrements++ }

	svc := newTestCheckoutService(t, fx, now)

	cmd := PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	}
	first, err := svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first PlaceOrder returned error: %v", err)
	}
	second, err := svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("retried PlaceOrder returned error: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("retry created order %q, want replay of %q", second.ID, first.ID)
	}
	if decrements != 1 {
		t.Fatalf("stock decrement recorded %d times, want once", decrements)
	}
}

func TestCheckoutPlaceOrderRetryIgnoresForeignOrder(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		orders: &orderRepoStub{
			createWithInventory: func(context.Context, domain.Order, []repositories.StockDelta) error {
				return conflictErr{}
			},
			findByID: func(_ context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "someone-else"}, nil
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	}); err == nil {
		t.Fatal("PlaceOrder replayed an order owned by another user")
	}
}

func TestCheckoutPublishFailureDoesNotFailOrder(t *testing.T) {
	now := time.Date(2024, time.August, 5, 11, 0, 0, 0, time.UTC)

	fx := checkoutFixture{
		cart: &cartServiceStub{
			snapshot: func(context.Context, string) (CartSnapshot, error) { return checkoutSnapshot(now), nil },
		},
		events: &orderPublisherStub{
			publish: func(context.Context, OrderEventMessage) (string, error) {
				return "", errors.New("broker down")
			},
		},
	}

	svc := newTestCheckoutService(t, fx, now)

	if _, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:        "user-1",
		Address:       testAddress(),
		PaymentMethod: domain.PaymentMethodCOD,
	}); err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
}
