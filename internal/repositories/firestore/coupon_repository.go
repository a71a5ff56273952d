package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cellstore/api/internal/domain"
	pfirestore "github.com/cellstore/api/internal/platform/firestore"
	"github.com/cellstore/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository resolves discount codes stored in Firestore.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection)
	return &CouponRepository{base: base}, nil
}

// FindActiveByCode looks up an active coupon by its uppercase code. Unknown
// and inactive codes both surface as a not-found repository error.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Where("active", "==", true).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findActiveByCode", status.Error(codes.NotFound, "coupon not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type couponDocument struct {
	Code        string     `firestore:"code"`
	Type        string     `firestore:"type"`
	Value       float64    `firestore:"value"`
	MinTotal    float64    `firestore:"minTotal"`
	MaxDiscount float64    `firestore:"maxDiscount"`
	Active      bool       `firestore:"active"`
	ExpiresAt   *time.Time `firestore:"expiresAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:          id,
		Code:        strings.ToUpper(strings.TrimSpace(d.Code)),
		Type:        domain.CouponType(strings.TrimSpace(d.Type)),
		Value:       d.Value,
		MinTotal:    d.MinTotal,
		MaxDiscount: d.MaxDiscount,
		Active:      d.Active,
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
