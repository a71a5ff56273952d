package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cellstore/api/internal/repositories"
)

const (
	eventStockDecremented = "stock.decremented"
	eventStockRestored    = "stock.restored"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates a decrement would drive stock negative.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryNotFound indicates a referenced product has no stock record.
	ErrInventoryNotFound = errors.New("inventory: product not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Events   StockEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	events   StockEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		events:   deps.Events,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

var _ InventoryService = (*inventoryService)(nil)

// Decrement atomically subtracts each line's quantity from the product's
// stored stock. Any line that would go negative aborts the whole batch, so
// concurrent checkouts for the last unit serialise on the store, not on an
// in-memory read.
func (s *inventoryService) Decrement(ctx context.Context, cmd InventoryAdjustCommand) error {
	deltas, err := stockDeltas(cmd.Lines, -1)
	if err != nil {
		return err
	}

	if err := s.products.AdjustStocks(ctx, deltas, s.clock()); err != nil {
		return s.mapStockError(err)
	}

	s.emitStockEvent(ctx, eventStockDecremented, cmd.OrderID, deltas)
	return nil
}

// Restore returns each line's quantity to the product's stored stock. Callers
// are responsible for invoking it at most once per cancellation.
func (s *inventoryService) Restore(ctx context.Context, cmd InventoryAdjustCommand) error {
	deltas, err := stockDeltas(cmd.Lines, 1)
	if err != nil {
		return err
	}

	if err := s.products.AdjustStocks(ctx, deltas, s.clock()); err != nil {
		return s.mapStockError(err)
	}

	s.emitStockEvent(ctx, eventStockRestored, cmd.OrderID, deltas)
	return nil
}

// RecordDecremented publishes the ledger event for a decrement an enclosing
// order transaction already applied.
func (s *inventoryService) RecordDecremented(ctx context.Context, orderID string, lines []OrderItem) {
	s.record(ctx, eventStockDecremented, orderID, lines, -1)
}

// RecordRestored publishes the ledger event for a restitution an enclosing
// cancellation transaction already applied.
func (s *inventoryService) RecordRestored(ctx context.Context, orderID string, lines []OrderItem) {
	s.record(ctx, eventStockRestored, orderID, lines, 1)
}

func (s *inventoryService) record(ctx context.Context, event, orderID string, lines []OrderItem, sign int) {
	deltas, err := stockDeltas(lines, sign)
	if err != nil {
		s.logger(ctx, "stock_event_skipped", map[string]any{
			"event":   event,
			"orderId": orderID,
			"error":   err.Error(),
		})
		return
	}
	s.emitStockEvent(ctx, event, orderID, deltas)
}

func (s *inventoryService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, stockErr.ProductID)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, stockErr.ProductID)
		case repositories.StockErrorUnknown:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, stockErr.Message)
		}
	}
	return err
}

// emitStockEvent publishes fire and forget; a broker outage never fails the
// adjustment that already committed.
func (s *inventoryService) emitStockEvent(ctx context.Context, event, orderID string, deltas []repositories.StockDelta) {
	if s.events == nil {
		return
	}

	adjustments := make([]StockAdjustment, len(deltas))
	for i, delta := range deltas {
		adjustments[i] = StockAdjustment{ProductID: delta.ProductID, Delta: delta.Delta}
	}

	message := StockEventMessage{
		Event:       event,
		OrderID:     orderID,
		Adjustments: adjustments,
		OccurredAt:  s.clock(),
	}
	if _, err := s.events.PublishStockEvent(ctx, message); err != nil {
		s.logger(ctx, "stock_event_publish_failed", map[string]any{
			"event":   event,
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

// stockDeltas aggregates order lines into signed per-product deltas, merging
// variant lines that share a product.
func stockDeltas(lines []OrderItem, sign int) ([]repositories.StockDelta, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		totals[productID] += line.Quantity
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deltas := make([]repositories.StockDelta, len(ids))
	for i, id := range ids {
		deltas[i] = repositories.StockDelta{ProductID: id, Delta: sign * totals[id]}
	}
	return deltas, nil
}
