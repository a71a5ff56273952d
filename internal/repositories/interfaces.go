package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/cellstore/api/internal/domain"
)

// ErrOrderStateChanged is returned when a conditional order write loses a race
// with another writer that already moved the order to a terminal state.
var ErrOrderStateChanged = errors.New("order repository: order state changed")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog entries and owns stock level mutations.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs resolves multiple products in one call. Missing IDs are simply
	// absent from the result map rather than an error.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// AdjustStocks applies all deltas in a single transaction. Any decrement
	// that would take a stock below zero aborts the whole batch with a
	// StockError carrying StockErrorInsufficient.
	AdjustStocks(ctx context.Context, deltas []StockDelta, now time.Time) error
}

// StockDelta is one signed stock adjustment within a batch.
type StockDelta struct {
	ProductID string
	Delta     int
}

// CartRepository owns the per-user cart document.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Clear(ctx context.Context, userID string, now time.Time) error
}

// CouponRepository resolves discount codes for evaluation.
type CouponRepository interface {
	// FindActiveByCode looks up an active coupon by its uppercase code.
	// Inactive and unknown codes both surface as IsNotFound.
	FindActiveByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// OrderRepository persists order documents and provides query helpers for users and admins.
type OrderRepository interface {
	// CreateWithInventory inserts the order, decrements stock for every line,
	// and clears the owner's cart inside one transaction. Insufficient stock
	// for any line aborts the whole batch.
	CreateWithInventory(ctx context.Context, order domain.Order, deltas []StockDelta) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Update(ctx context.Context, order domain.Order) error
	// CancelWithRestock writes the cancelled order state and returns stock for
	// every line in one transaction, so a retried cancellation can never
	// restore the same units twice.
	CancelWithRestock(ctx context.Context, order domain.Order, deltas []StockDelta) error
}

// OrderListFilter controls admin order listings.
type OrderListFilter struct {
	UserID    string
	Status    domain.OrderStatus
	PageSize  int
	PageToken string
	SortOrder domain.SortOrder
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
