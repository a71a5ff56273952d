package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/cellstore/api/internal/domain"
	"github.com/cellstore/api/internal/repositories"
)

var (
	// ErrCouponInvalid indicates the code does not match an active coupon.
	ErrCouponInvalid = errors.New("coupon: invalid code")
	// ErrCouponExpired indicates the coupon exists but its expiry has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon's minimum.
	ErrCouponMinimumNotMet = errors.New("coupon: minimum order total not met")
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
}

type couponService struct {
	repo  repositories.CouponRepository
	clock func() time.Time
}

// NewCouponService wires a CouponService backed by the provided repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		repo:  deps.Coupons,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

var _ CouponService = (*couponService)(nil)

// Evaluate resolves a coupon code against a subtotal and returns the bounded
// discount. It has no side effects, so preview endpoints may call it without
// committing an order.
func (s *couponService) Evaluate(ctx context.Context, code string, subtotal float64) (CouponResult, error) {
	if s == nil || s.repo == nil {
		return CouponResult{}, errors.New("coupon service: not initialised")
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return CouponResult{}, ErrCouponInvalid
	}

	coupon, err := s.repo.FindActiveByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsNotFound() {
			return CouponResult{}, ErrCouponInvalid
		}
		return CouponResult{}, err
	}

	if coupon.ExpiresAt != nil && s.clock().After(*coupon.ExpiresAt) {
		return CouponResult{}, ErrCouponExpired
	}
	if subtotal < coupon.MinTotal {
		return CouponResult{}, ErrCouponMinimumNotMet
	}

	var discount float64
	switch coupon.Type {
	case domain.CouponTypePercent:
		discount = subtotal * coupon.Value / 100
	default:
		discount = coupon.Value
	}
	if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
		discount = coupon.MaxDiscount
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}

	return CouponResult{
		Code:     coupon.Code,
		Type:     coupon.Type,
		Discount: round2(discount),
	}, nil
}
