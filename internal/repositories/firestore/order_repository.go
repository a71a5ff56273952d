package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cellstore/api/internal/domain"
	pfirestore "github.com/cellstore/api/internal/platform/firestore"
	"github.com/cellstore/api/internal/platform/pagination"
	"github.com/cellstore/api/internal/repositories"
)

const orderCollection = "orders"


// OrderRepository persists order documents and runs the composite checkout and
// cancellation transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
	}, nil
}

// CreateWithInventory inserts the order, decrements stock for every line, and
// clears the owner's cart inside one transaction. Any insufficient line aborts
// the whole batch, so no partial decrement can ever be observed.
func (r *OrderRepository) CreateWithInventory(ctx context.Context, order domain.Order, deltas []repositories.StockDelta) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if strings.TrimSpace(order.UserID) == "" {
		return errors.New("order repository: user id is required")
	}

	merged, err := mergeDeltas(deltas)
	if err != nil {
		return err
	}
	now := order.CreatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		cartRef, err := r.carts.DocumentRef(ctx, order.UserID)
		if err != nil {
			return err
		}

		// All reads precede all writes inside a Firestore transaction.
		if _, err := tx.Get(orderRef); err == nil {
			return pfirestore.WrapError("orders.create", status.Error(codes.AlreadyExists, "order already exists"))
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if err := applyStockDeltas(ctx, tx, r.products, merged, now); err != nil {
			return err
		}

		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		return tx.Set(cartRef, cartDocument{Lines: []cartLineDocument{}, UpdatedAt: now})
	})
	return wrapStockError("orders.create", err)
}

// FindByID loads a single order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}
	return r.list(ctx, repositories.OrderListFilter{
		UserID:    uid,
		PageSize:  pager.PageSize,
		PageToken: pager.PageToken,
	})
}

// List returns orders matching the admin filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, filter)
}

func (r *OrderRepository) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	direction := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}

	var decodedToken *orderCursor
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		tok, err := decodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		decodedToken = tok
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)
		if decodedToken != nil {
			q = q.StartAfter(decodedToken.CreatedAt, decodedToken.ID)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderCursor(orderCursor{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Update replaces the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, id, newOrderDocument(order))
	return err
}

// CancelWithRestock writes the cancelled order and returns stock for every
// delta in one transaction. The stored status is re-read inside the
// transaction; if another writer already moved the order to a terminal state
// the call fails with repositories.ErrOrderStateChanged and nothing is restored.
func (r *OrderRepository) CancelWithRestock(ctx context.Context, order domain.Order, deltas []repositories.StockDelta) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	merged, err := mergeDeltas(deltas)
	if err != nil {
		return err
	}
	now := order.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if domain.TerminalOrderStatus(domain.OrderStatus(stored.Status)) {
			return repositories.ErrOrderStateChanged
		}

		if err := applyStockDeltas(ctx, tx, r.products, merged, now); err != nil {
			return err
		}
		return tx.Set(orderRef, newOrderDocument(order))
	})
	return wrapStockError("orders.cancel", err)
}

// Document types -------------------------------------------------------------

type orderDocument struct {
	UserID          string                 `firestore:"userId"`
	Items           []orderItemDocument    `firestore:"items"`
	Address         addressDocument        `firestore:"address"`
	Totals          orderTotalsDocument    `firestore:"totals"`
	ShippingOption  string                 `firestore:"shippingOption"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	PaymentIntentID string                 `firestore:"paymentIntentId,omitempty"`
	Status          string                 `firestore:"status"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	TrackingNumber  string                 `firestore:"trackingNumber,omitempty"`
	Carrier         string                 `firestore:"carrier,omitempty"`
	ShippedAt       *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time             `firestore:"cancelledAt,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	Name      string  `firestore:"name"`
	Quantity  int     `firestore:"qty"`
	UnitPrice float64 `firestore:"unitPrice"`
	Size      string  `firestore:"size,omitempty"`
	Color     string  `firestore:"color,omitempty"`
}

type addressDocument struct {
	Name    string `firestore:"name"`
	Phone   string `firestore:"phone"`
	Street  string `firestore:"street"`
	City    string `firestore:"city"`
	Pincode string `firestore:"pincode"`
}

type orderTotalsDocument struct {
	Subtotal   float64 `firestore:"subtotal"`
	Discount   float64 `firestore:"discount"`
	CouponCode string  `firestore:"couponCode,omitempty"`
	Shipping   float64 `firestore:"shipping"`
	Tax        float64 `firestore:"tax"`
	GrandTotal float64 `firestore:"grandTotal"`
}

type statusChangeDocument struct {
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Size:      strings.TrimSpace(item.Variant.Size),
			Color:     strings.TrimSpace(item.Variant.Color),
		}
	}
	history := make([]statusChangeDocument, len(order.StatusHistory))
	for i, change := range order.StatusHistory {
		history[i] = statusChangeDocument{Status: string(change.Status), At: change.At.UTC()}
	}
	return orderDocument{
		UserID: strings.TrimSpace(order.UserID),
		Items:  items,
		Address: addressDocument{
			Name:    strings.TrimSpace(order.Address.Name),
			Phone:   strings.TrimSpace(order.Address.Phone),
			Street:  strings.TrimSpace(order.Address.Street),
			City:    strings.TrimSpace(order.Address.City),
			Pincode: strings.TrimSpace(order.Address.Pincode),
		},
		Totals: orderTotalsDocument{
			Subtotal:   order.Totals.Subtotal,
			Discount:   order.Totals.Discount,
			CouponCode: strings.TrimSpace(order.Totals.CouponCode),
			Shipping:   order.Totals.Shipping,
			Tax:        order.Totals.Tax,
			GrandTotal: order.Totals.GrandTotal,
		},
		ShippingOption:  string(order.ShippingOption),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		Status:          string(order.Status),
		StatusHistory:   history,
		TrackingNumber:  strings.TrimSpace(order.TrackingNumber),
		Carrier:         strings.TrimSpace(order.Carrier),
		ShippedAt:       order.ShippedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Variant:   domain.Variant{Size: item.Size, Color: item.Color},
		}
	}
	history := make([]domain.StatusChange, len(d.StatusHistory))
	for i, change := range d.StatusHistory {
		history[i] = domain.StatusChange{Status: domain.OrderStatus(change.Status), At: change.At}
	}
	return domain.Order{
		ID:     id,
		UserID: d.UserID,
		Items:  items,
		Address: domain.Address{
			Name:    d.Address.Name,
			Phone:   d.Address.Phone,
			Street:  d.Address.Street,
			City:    d.Address.City,
			Pincode: d.Address.Pincode,
		},
		Totals: domain.OrderTotals{
			Subtotal:   d.Totals.Subtotal,
			Discount:   d.Totals.Discount,
			CouponCode: d.Totals.CouponCode,
			Shipping:   d.Totals.Shipping,
			Tax:        d.Totals.Tax,
			GrandTotal: d.Totals.GrandTotal,
		},
		ShippingOption:  domain.ShippingOption(d.ShippingOption),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentIntentID: d.PaymentIntentID,
		Status:          domain.OrderStatus(d.Status),
		StatusHistory:   history,
		TrackingNumber:  d.TrackingNumber,
		Carrier:         d.Carrier,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// Pagination tokens ----------------------------------------------------------

// orderCursor is serialised into the shared cursor token format as a
// [createdAt, id] StartAfter pair matching the list query ordering.
type orderCursor struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderCursor(cursor orderCursor) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{cursor.CreatedAt.UTC().Format(time.RFC3339Nano), cursor.ID},
	})
}

func decodeOrderCursor(encoded string) (*orderCursor, error) {
	decoded, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(decoded.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawCreatedAt, ok := decoded.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: createdAt must be a string", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	id, ok := decoded.StartAfter[1].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id must be a string", pagination.ErrInvalidPageToken)
	}
	return &orderCursor{ID: id, CreatedAt: createdAt}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
