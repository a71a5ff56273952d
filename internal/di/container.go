package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cellstore/api/internal/payments"
	"github.com/cellstore/api/internal/platform/config"
	"github.com/cellstore/api/internal/platform/observability"
	"github.com/cellstore/api/internal/repositories"
	"github.com/cellstore/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing   services.PricingService
	Coupons   services.CouponService
	Cart      services.CartService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Inventory services.InventoryService
	System    services.SystemService
}

// Deps carries the externally constructed dependencies the container wires together.
type Deps struct {
	Config      config.Config
	Registry    repositories.Registry
	Policy      config.PolicySource
	Payments    payments.Provider
	OrderEvents services.OrderEventPublisher
	StockEvents services.StockEventPublisher
	Logger      *zap.Logger
	Build       services.BuildInfo
	Clock       func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub publishers.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	policy := deps.Policy
	if policy == nil {
		policy = config.EnvPolicy()
	}

	logFn := serviceLogger(deps.Logger)

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Policy: policy,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	if couponsRepo := reg.Coupons(); couponsRepo != nil {
		couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
			Coupons: couponsRepo,
			Clock:   clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build coupon service: %w", err)
		}
		svc.Coupons = couponSvc
	}

	cartsRepo := reg.Carts()
	productsRepo := reg.Products()
	if cartsRepo != nil && productsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:    cartsRepo,
			Products: productsRepo,
			Pricing:  pricing,
			Clock:    clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if productsRepo != nil {
		inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
			Products: productsRepo,
			Events:   deps.StockEvents,
			Clock:    clock,
			Logger:   logFn,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory service: %w", err)
		}
		svc.Inventory = inventorySvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:    ordersRepo,
			Inventory: svc.Inventory,
			Events:    deps.OrderEvents,
			Clock:     clock,
			Logger:    logFn,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if svc.Cart != nil && svc.Coupons != nil && ordersRepo != nil && deps.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Cart:      svc.Cart,
			Coupons:   svc.Coupons,
			Pricing:   pricing,
			Orders:    ordersRepo,
			Payments:  deps.Payments,
			Inventory: svc.Inventory,
			Events:    deps.OrderEvents,
			Currency:  deps.Config.PSP.Currency,
			Clock:     clock,
			Logger:    logFn,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// serviceLogger adapts the zap logger to the event callback shape services expect.
// A nil logger falls back to the request-scoped logger carried in the context.
func serviceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if logger == nil {
			logger = observability.FromContext(ctx)
		}
		if logger == nil {
			return
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Warn(event, zapFields...)
	}
}
