package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// ProductStatus enumerates catalog visibility states.
type ProductStatus string

const (
	// ProductStatusActive indicates the product is purchasable.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusArchived indicates the product is retired and hidden from carts.
	ProductStatusArchived ProductStatus = "archived"
)

// Product models a catalog entry as stored in Firestore.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Stock       int
	Sizes       []string
	Colors      []string
	ImageURL    string
	Status      ProductStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant identifies a size/color combination chosen by the shopper.
// Either field may be empty for products without that axis.
type Variant struct {
	Size  string
	Color string
}

// CartLine stores a single product entry within a cart. Lines are keyed by
// product ID plus variant, so the same product in two sizes occupies two lines.
type CartLine struct {
	ProductID string
	Quantity  int
	Variant   Variant
	AddedAt   time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	UserID    string
	Lines     []CartLine
	UpdatedAt time.Time
}

// Coupon describes a discount code record. Codes are stored uppercase and
// unique; MaxDiscount of zero means the percentage discount is uncapped.
type Coupon struct {
	ID          string
	Code        string
	Type        CouponType
	Value       float64
	MinTotal    float64
	MaxDiscount float64
	Active      bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CouponType enumerates supported discount shapes.
type CouponType string

const (
	// CouponTypePercent discounts a percentage of the eligible subtotal.
	CouponTypePercent CouponType = "percent"
	// CouponTypeFixed discounts a fixed currency amount.
	CouponTypeFixed CouponType = "fixed"
)

// ShippingOption enumerates the delivery choices offered at checkout.
type ShippingOption string

const (
	// ShippingStandard is the default parcel service.
	ShippingStandard ShippingOption = "standard"
	// ShippingExpress is the expedited parcel service.
	ShippingExpress ShippingOption = "express"
	// ShippingPickup is in-store collection and always free.
	ShippingPickup ShippingOption = "pickup"
)

// PaymentMethod enumerates how the shopper settles an order.
type PaymentMethod string

const (
	// PaymentMethodCard settles through the card processor at checkout.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCOD defers settlement to delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment or acknowledgement.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPlaced indicates the order was acknowledged for fulfillment.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and stock returned.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ValidOrderStatus reports whether s is a member of the status enum.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPlaced,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// TerminalOrderStatus reports whether s admits no further transitions.
func TerminalOrderStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// StatusChange records one entry of an order's append-only status history.
type StatusChange struct {
	Status OrderStatus
	At     time.Time
}

// Address is the delivery address captured at checkout. All five fields are
// required when placing an order.
type Address struct {
	Name    string
	Phone   string
	Street  string
	City    string
	Pincode string
}

// Complete reports whether every address field is non-empty.
func (a Address) Complete() bool {
	return a.Name != "" && a.Phone != "" && a.Street != "" && a.City != "" && a.Pincode != ""
}

// OrderItem is an immutable line snapshot taken when the order was placed.
// Later catalog edits never alter it.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice float64
	Variant   Variant
}

// Order is the persisted record of a completed checkout.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	Address         Address
	Totals          OrderTotals
	ShippingOption  ShippingOption
	PaymentMethod   PaymentMethod
	PaymentIntentID string
	Status          OrderStatus
	StatusHistory   []StatusChange
	TrackingNumber  string
	Carrier         string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderFilter narrows admin order listings.
type OrderFilter struct {
	UserID string
	Status OrderStatus
}

// HealthStatus classifies the outcome of a dependency probe.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency responded in time.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with an error.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the dependency timed out or was cancelled.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck records a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates probe results for readiness endpoints.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
