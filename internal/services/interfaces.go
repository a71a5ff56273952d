package services

import (
	"context"
	"time"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	Variant            = domain.Variant
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	Coupon             = domain.Coupon
	CouponResult       = domain.CouponResult
	ShippingOption     = domain.ShippingOption
	PaymentMethod      = domain.PaymentMethod
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	StatusChange       = domain.StatusChange
	Address            = domain.Address
	PricingPolicy      = domain.PricingPolicy
	SystemHealthReport = domain.SystemHealthReport
)

// PricingService normalizes stored prices and computes checkout totals.
type PricingService interface {
	// Normalize converts a stored price into the canonical currency using the
	// legacy magnitude heuristic, rounded to two decimals.
	Normalize(amount float64) float64
	// Totals computes discount-adjusted shipping, tax, and grand total for the
	// given subtotal and shipping choice.
	Totals(cmd TotalsCommand) OrderTotals
}

// CouponService evaluates discount codes against an order subtotal.
type CouponService interface {
	Evaluate(ctx context.Context, code string, subtotal float64) (CouponResult, error)
}

// CartService manages mutable cart state and produces checkout snapshots.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
	ClearCart(ctx context.Context, userID string) error
	// Snapshot freezes the cart into immutable order items at current
	// normalized prices, verifying stock for every line.
	Snapshot(ctx context.Context, userID string) (CartSnapshot, error)
}

// CheckoutService coordinates quoting, payment intent creation, and order placement.
type CheckoutService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// OrderService encapsulates order reads and lifecycle transitions.
type OrderService interface {
	ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Get(ctx context.Context, cmd GetOrderCommand) (Order, error)
	SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// InventoryService is the stock ledger: guarded adjustments plus the events
// that record them. The composite order transactions apply their adjustments
// in-store and call the Record methods after commit.
type InventoryService interface {
	Decrement(ctx context.Context, cmd InventoryAdjustCommand) error
	Restore(ctx context.Context, cmd InventoryAdjustCommand) error
	RecordDecremented(ctx context.Context, orderID string, lines []OrderItem)
	RecordRestored(ctx context.Context, orderID string, lines []OrderItem)
}

// SystemService aggregates utility endpoints (health checks, build info).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// StockEventPublisher accepts stock adjustment notifications for downstream processing.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, message StockEventMessage) (string, error)
}

// PolicySource yields the pricing policy in effect at call time.
type PolicySource interface {
	Policy() domain.PricingPolicy
}

// Command and DTO definitions ------------------------------------------------

// TotalsCommand carries the inputs for a totals calculation.
type TotalsCommand struct {
	Subtotal       float64
	Discount       float64
	ShippingOption ShippingOption
}

// CartView is a cart joined with current product data for presentation.
type CartView struct {
	UserID    string
	Lines     []CartViewLine
	Subtotal  float64
	UpdatedAt time.Time
}

// CartViewLine is one cart line with its resolved product.
type CartViewLine struct {
	ProductID string
	Name      string
	UnitPrice float64
	Quantity  int
	Variant   Variant
	LineTotal float64
	InStock   bool
}

// CartSnapshot freezes cart lines into immutable order items.
type CartSnapshot struct {
	UserID   string
	Items    []OrderItem
	Subtotal float64
	TakenAt  time.Time
}

type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
	Variant   Variant
}

type UpdateCartQuantityCommand struct {
	UserID    string
	ProductID string
	Variant   Variant
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
	Variant   Variant
}

// QuoteCommand previews checkout totals without side effects.
type QuoteCommand struct {
	UserID         string
	CouponCode     string
	ShippingOption ShippingOption
}

// Quote is a speculative checkout preview.
type Quote struct {
	Items  []OrderItem
	Totals OrderTotals
}

type CreatePaymentIntentCommand struct {
	UserID         string
	CouponCode     string
	ShippingOption ShippingOption
	IdempotencyKey string
}

// PaymentIntent carries the client handle for PSP confirmation.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       float64
	Currency     string
}

type PlaceOrderCommand struct {
	UserID          string
	Address         Address
	ShippingOption  ShippingOption
	PaymentMethod   PaymentMethod
	CouponCode      string
	PaymentIntentID string
	IdempotencyKey  string
}

type OrderListFilter = repositories.OrderListFilter

type GetOrderCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
}

type SetOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

type UpdateFulfillmentCommand struct {
	OrderID        string
	TrackingNumber *string
	Carrier        *string
	ActorID        string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	IsAdmin bool
}

type InventoryAdjustCommand struct {
	OrderID string
	Lines   []OrderItem
}

// Event messages -------------------------------------------------------------

// OrderEventMessage is the payload published for order lifecycle events.
type OrderEventMessage struct {
	Event      string    `json:"event"`
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	GrandTotal float64   `json:"grandTotal,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// StockAdjustment is one signed stock change within a stock event.
type StockAdjustment struct {
	ProductID string `json:"productId"`
	Delta     int    `json:"delta"`
}

// StockEventMessage is the payload published for stock adjustments.
type StockEventMessage struct {
	Event       string            `json:"event"`
	OrderID     string            `json:"orderId,omitempty"`
	Adjustments []StockAdjustment `json:"adjustments"`
	OccurredAt  time.Time         `json:"occurredAt"`
}
