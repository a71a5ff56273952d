package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cellstore/api/internal/domain"
	pfirestore "github.com/cellstore/api/internal/platform/firestore"
	"github.com/cellstore/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog documents and owns stock mutations.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID loads a single product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs resolves multiple product documents in one round trip. Missing IDs
// are absent from the result map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	ids := dedupeIDs(productIDs)
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = client.Collection(productCollection).Doc(id)
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

// AdjustStocks applies every delta inside a single transaction. All reads run
// before any write so the transaction satisfies Firestore ordering rules, and
// a decrement below zero aborts the whole batch.
func (r *ProductRepository) AdjustStocks(ctx context.Context, deltas []repositories.StockDelta, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(deltas) == 0 {
		return nil
	}

	merged, err := mergeDeltas(deltas)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return applyStockDeltas(ctx, tx, r.base, merged, now.UTC())
	})
	return wrapStockError("products.adjustStocks", err)
}

// applyStockDeltas performs guarded stock updates within tx. Shared with the
// order repository so checkout and cancellation reuse the same guard.
func applyStockDeltas(ctx context.Context, tx *firestore.Transaction, base *pfirestore.BaseRepository[productDocument], deltas []repositories.StockDelta, now time.Time) error {
	type pending struct {
		ref *firestore.DocumentRef
		doc productDocument
	}

	writes := make([]pending, 0, len(deltas))
	for _, delta := range deltas {
		ref, err := base.DocumentRef(ctx, delta.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, delta.ProductID, fmt.Sprintf("product %s not found", delta.ProductID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", delta.ProductID, err)
		}
		next := doc.Stock + delta.Delta
		if next < 0 {
			return &repositories.StockError{
				Code:      repositories.StockErrorInsufficient,
				ProductID: delta.ProductID,
				Requested: -delta.Delta,
				Available: doc.Stock,
				Message:   fmt.Sprintf("insufficient stock for %s", delta.ProductID),
			}
		}
		doc.Stock = next
		doc.UpdatedAt = now
		writes = append(writes, pending{ref: ref, doc: doc})
	}

	for _, w := range writes {
		if err := tx.Set(w.ref, w.doc); err != nil {
			return err
		}
	}
	return nil
}

// mergeDeltas collapses multiple adjustments for the same product so each
// document is read and written once per transaction.
func mergeDeltas(deltas []repositories.StockDelta) ([]repositories.StockDelta, error) {
	sums := make(map[string]int, len(deltas))
	for _, delta := range deltas {
		id := strings.TrimSpace(delta.ProductID)
		if id == "" {
			return nil, repositories.NewStockError(repositories.StockErrorUnknown, "", "stock adjust: product id is required", nil)
		}
		sums[id] += delta.Delta
	}

	ids := make([]string, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := make([]repositories.StockDelta, 0, len(ids))
	for _, id := range ids {
		if sums[id] == 0 {
			continue
		}
		merged = append(merged, repositories.StockDelta{ProductID: id, Delta: sums[id]})
	}
	return merged, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Price       float64   `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Sizes       []string  `firestore:"sizes,omitempty"`
	Colors      []string  `firestore:"colors,omitempty"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	Status      string    `firestore:"status"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	status := domain.ProductStatus(strings.TrimSpace(d.Status))
	if status == "" {
		status = domain.ProductStatusActive
	}
	return domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Price:       d.Price,
		Stock:       d.Stock,
		Sizes:       append([]string(nil), d.Sizes...),
		Colors:      append([]string(nil), d.Colors...),
		ImageURL:    strings.TrimSpace(d.ImageURL),
		Status:      status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
