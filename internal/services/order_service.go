package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/repositories"
)

const (
	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status.changed"
	eventOrderCancelled     = "order.cancelled"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidStatus indicates the target status is not a known status.
	ErrOrderInvalidStatus = errors.New("order: invalid status")
	// ErrOrderInvalidTransition indicates the status machine forbids the move.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderAlreadyCancelled indicates the order is already cancelled.
	ErrOrderAlreadyCancelled = errors.New("order: already cancelled")
	// ErrOrderNotCancellable indicates the order is past the point of cancellation.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
)

// orderTransitions is the status machine. Cancellation is reachable from any
// pre-shipment state; delivered and cancelled admit nothing further.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusPlaced, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusPlaced, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusPlaced:  {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory InventoryService
	Events    OrderEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	events    OrderEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

var _ OrderService = (*orderService)(nil)

func (s *orderService) ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.orders.ListByUser(ctx, userID, pager)
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Status != "" && !domain.ValidOrderStatus(filter.Status) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %s", ErrOrderInvalidStatus, filter.Status)
	}
	return s.orders.List(ctx, filter)
}

func (s *orderService) Get(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	order, err := s.find(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// SetStatus moves an order through the status machine, appends the history
// entry, and stamps the matching terminal timestamp the first time that status
// is reached. Cancelling through here restores stock in the same transaction.
func (s *orderService) SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	if !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidStatus, cmd.Status)
	}

	order, err := s.find(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	if err := s.applyTransition(&order, cmd.Status); err != nil {
		return Order{}, err
	}

	if cmd.Status == domain.OrderStatusCancelled {
		if err := s.cancelWithRestock(ctx, order); err != nil {
			return Order{}, err
		}
	} else if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, err
	}

	s.emitOrderEvent(ctx, eventOrderStatusChanged, order)
	return order, nil
}

// UpdateFulfillment patches tracking metadata without touching the status
// history. Nil fields are left as stored.
func (s *orderService) UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error) {
	if cmd.TrackingNumber == nil && cmd.Carrier == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}

	order, err := s.find(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	if cmd.TrackingNumber != nil {
		order.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
	}
	if cmd.Carrier != nil {
		order.Carrier = strings.TrimSpace(*cmd.Carrier)
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Cancel is the user-initiated cancellation. Stock restitution happens in the
// same transaction as the status write, so retries can never restore twice.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.find(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return Order{}, ErrOrderForbidden
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		return Order{}, ErrOrderAlreadyCancelled
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusPlaced:
	default:
		return Order{}, fmt.Errorf("%w: status %s", ErrOrderNotCancellable, order.Status)
	}

	if err := s.applyTransition(&order, domain.OrderStatusCancelled); err != nil {
		return Order{}, err
	}
	if err := s.cancelWithRestock(ctx, order); err != nil {
		return Order{}, err
	}

	s.emitOrderEvent(ctx, eventOrderCancelled, order)
	return order, nil
}

func (s *orderService) cancelWithRestock(ctx context.Context, order Order) error {
	deltas, err := stockDeltas(order.Items, 1)
	if err != nil {
		return err
	}
	if err := s.orders.CancelWithRestock(ctx, order, deltas); err != nil {
		if errors.Is(err, repositories.ErrOrderStateChanged) {
			// Another writer reached a terminal state first.
			return s.classifyLostCancelRace(ctx, order.ID)
		}
		return err
	}

	if s.inventory != nil {
		s.inventory.RecordRestored(ctx, order.ID, order.Items)
	}
	return nil
}

// classifyLostCancelRace re-reads the order to report why the cancellation
// transaction was rejected.
func (s *orderService) classifyLostCancelRace(ctx context.Context, orderID string) error {
	current, err := s.find(ctx, orderID)
	if err != nil {
		return ErrOrderNotCancellable
	}
	if current.Status == domain.OrderStatusCancelled {
		return ErrOrderAlreadyCancelled
	}
	return fmt.Errorf("%w: status %s", ErrOrderNotCancellable, current.Status)
}

// applyTransition validates the move and mutates the in-memory order: status,
// history entry, terminal timestamp.
func (s *orderService) applyTransition(order *Order, next domain.OrderStatus) error {
	allowed := false
	for _, candidate := range orderTransitions[order.Status] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, next)
	}

	now := s.clock()
	order.Status = next
	order.StatusHistory = append(order.StatusHistory, domain.StatusChange{Status: next, At: now})
	order.UpdatedAt = now

	switch next {
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
	return nil
}

func (s *orderService) find(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return Order{}, err
	}
	return order, nil
}

// emitOrderEvent publishes fire and forget; delivery failure never rolls back
// a committed order.
func (s *orderService) emitOrderEvent(ctx context.Context, event string, order Order) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		Event:      event,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		GrandTotal: order.Totals.GrandTotal,
		OccurredAt: s.clock(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}
