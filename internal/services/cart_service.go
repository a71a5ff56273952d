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

var (
	// ErrCartInvalidInput signals the caller provided invalid arguments.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartEmpty indicates the cart holds no lines when a snapshot was requested.
	ErrCartEmpty = errors.New("cart: empty")
	// ErrCartLineNotFound indicates the addressed line is not in the cart.
	ErrCartLineNotFound = errors.New("cart: line not found")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("cart: product not found")
	// ErrProductUnavailable indicates the product is archived and cannot be ordered.
	ErrProductUnavailable = errors.New("cart: product unavailable")
	// ErrInsufficientStock indicates a requested quantity exceeds current stock.
	ErrInsufficientStock = errors.New("cart: insufficient stock")
)

// InsufficientStockError carries the offending product for stock rejections.
// It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("cart: insufficient stock for product %s (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// CartServiceDeps bundles the collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Pricing  PricingService
	Clock    func() time.Time
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	pricing  PricingService
	clock    func() time.Time
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		pricing:  deps.Pricing,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

var _ CartService = (*cartService)(nil)

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	return s.buildView(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	product, err := s.resolveProduct(ctx, productID)
	if err != nil {
		return CartView{}, err
	}
	if err := validateVariant(product, cmd.Variant); err != nil {
		return CartView{}, err
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return CartView{}, err
	}

	now := s.clock()
	merged := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID && cart.Lines[i].Variant == cmd.Variant {
			next := cart.Lines[i].Quantity + cmd.Quantity
			if next > product.Stock {
				return CartView{}, &InsufficientStockError{ProductID: productID, Requested: next, Available: product.Stock}
			}
			cart.Lines[i].Quantity = next
			merged = true
			break
		}
	}
	if !merged {
		if cmd.Quantity > product.Stock {
			return CartView{}, &InsufficientStockError{ProductID: productID, Requested: cmd.Quantity, Available: product.Stock}
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: productID,
			Quantity:  cmd.Quantity,
			Variant:   cmd.Variant,
			AddedAt:   now,
		})
	}

	return s.saveAndView(ctx, cart)
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	product, err := s.resolveProduct(ctx, productID)
	if err != nil {
		return CartView{}, err
	}
	if cmd.Quantity > product.Stock {
		return CartView{}, &InsufficientStockError{ProductID: productID, Requested: cmd.Quantity, Available: product.Stock}
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return CartView{}, err
	}

	found := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID && cart.Lines[i].Variant == cmd.Variant {
			cart.Lines[i].Quantity = cmd.Quantity
			found = true
			break
		}
	}
	if !found {
		return CartView{}, ErrCartLineNotFound
	}

	return s.saveAndView(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return CartView{}, err
	}

	kept := cart.Lines[:0]
	removed := false
	for _, line := range cart.Lines {
		if line.ProductID == productID && line.Variant == cmd.Variant {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return CartView{}, ErrCartLineNotFound
	}
	cart.Lines = kept

	return s.saveAndView(ctx, cart)
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.carts.Clear(ctx, userID, s.clock())
}

// Snapshot freezes the cart into immutable order items priced at the current
// normalized product price. The stock check here is advisory; the authoritative
// guard runs inside the order creation transaction.
func (s *cartService) Snapshot(ctx context.Context, userID string) (CartSnapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CartSnapshot{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return CartSnapshot{}, err
	}
	if len(cart.Lines) == 0 {
		return CartSnapshot{}, ErrCartEmpty
	}

	products, err := s.productIndex(ctx, cart)
	if err != nil {
		return CartSnapshot{}, err
	}

	items := make([]OrderItem, 0, len(cart.Lines))
	var subtotal float64
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return CartSnapshot{}, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if line.Quantity > product.Stock {
			return CartSnapshot{}, &InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity, Available: product.Stock}
		}
		price := s.pricing.Normalize(product.Price)
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: price,
			Variant:   line.Variant,
		})
		subtotal += price * float64(line.Quantity)
	}

	return CartSnapshot{
		UserID:   userID,
		Items:    items,
		Subtotal: round2(subtotal),
		TakenAt:  s.clock(),
	}, nil
}

func (s *cartService) loadCart(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		// A missing document is just an empty cart.
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, err
	}
	cart.UserID = userID
	return cart, nil
}

func (s *cartService) saveAndView(ctx context.Context, cart domain.Cart) (CartView, error) {
	cart.UpdatedAt = s.clock()
	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.buildView(ctx, saved)
}

func (s *cartService) buildView(ctx context.Context, cart domain.Cart) (CartView, error) {
	view := CartView{
		UserID:    cart.UserID,
		Lines:     []CartViewLine{},
		UpdatedAt: cart.UpdatedAt,
	}
	if len(cart.Lines) == 0 {
		return view, nil
	}

	products, err := s.productIndex(ctx, cart)
	if err != nil {
		return CartView{}, err
	}

	var subtotal float64
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			// Products removed from the catalog drop out of the view.
			continue
		}
		price := s.pricing.Normalize(product.Price)
		lineTotal := round2(price * float64(line.Quantity))
		view.Lines = append(view.Lines, CartViewLine{
			ProductID: line.ProductID,
			Name:      product.Name,
			UnitPrice: price,
			Quantity:  line.Quantity,
			Variant:   line.Variant,
			LineTotal: lineTotal,
			InStock:   product.Stock >= line.Quantity,
		})
		subtotal += lineTotal
	}
	view.Subtotal = round2(subtotal)
	return view, nil
}

func (s *cartService) productIndex(ctx context.Context, cart domain.Cart) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		ids = append(ids, line.ProductID)
	}
	return s.products.FindByIDs(ctx, ids)
}

func (s *cartService) resolveProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return domain.Product{}, err
	}
	if product.Status == domain.ProductStatusArchived {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}
	return product, nil
}

func validateVariant(product domain.Product, variant Variant) error {
	if variant.Size != "" && len(product.Sizes) > 0 && !containsString(product.Sizes, variant.Size) {
		return fmt.Errorf("%w: size %q not offered", ErrCartInvalidInput, variant.Size)
	}
	if variant.Color != "" && len(product.Colors) > 0 && !containsString(product.Colors, variant.Color) {
		return fmt.Errorf("%w: color %q not offered", ErrCartInvalidInput, variant.Color)
	}
	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
