package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cellstore/api/internal/domain"
	pfirestore "github.com/cellstore/api/internal/platform/firestore"
	"github.com/cellstore/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists the per-user cart document keyed by user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection)
	return &CartRepository{base: base}, nil
}

// Get loads the cart for the given user ID.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Upsert replaces the whole cart document.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := newCartDocument(cart)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(uid)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Clear resets the cart to an empty line list.
func (r *CartRepository) Clear(ctx context.Context, userID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	_, err := r.base.Set(ctx, uid, cartDocument{Lines: []cartLineDocument{}, UpdatedAt: now.UTC()})
	return err
}

type cartDocument struct {
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"qty"`
	Size      string    `firestore:"size,omitempty"`
	Color     string    `firestore:"color,omitempty"`
	AddedAt   time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	lines := make([]cartLineDocument, len(cart.Lines))
	for i, line := range cart.Lines {
		lines[i] = cartLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			Size:      strings.TrimSpace(line.Variant.Size),
			Color:     strings.TrimSpace(line.Variant.Color),
			AddedAt:   line.AddedAt.UTC(),
		}
	}
	updatedAt := cart.UpdatedAt.UTC()
	if cart.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return cartDocument{Lines: lines, UpdatedAt: updatedAt}
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	lines := make([]domain.CartLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.CartLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			Variant: domain.Variant{
				Size:  strings.TrimSpace(line.Size),
				Color: strings.TrimSpace(line.Color),
			},
			AddedAt: line.AddedAt,
		}
	}
	return domain.Cart{
		UserID:    userID,
		Lines:     lines,
		UpdatedAt: d.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
