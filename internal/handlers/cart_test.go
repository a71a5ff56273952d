package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cellstore/api/internal/platform/auth"
	"github.com/cellstore/api/internal/services"
)

type stubCartService struct {
	getCartFunc        func(ctx context.Context, userID string) (services.CartView, error)
	addItemFunc        func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	updateQuantityFunc func(ctx context.Context, cmd services.UpdateCartQuantityCommand) (services.CartView, error)
	removeItemFunc     func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error)
	clearCartFunc      func(ctx context.Context, userID string) error
	snapshotFunc       func(ctx context.Context, userID string) (services.CartSnapshot, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.getCartFunc == nil {
		return services.CartView{}, nil
	}
	return s.getCartFunc(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addItemFunc == nil {
		return services.CartView{}, nil
	}
	return s.addItemFunc(ctx, cmd)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartQuantityCommand) (services.CartView, error) {
	if s.updateQuantityFunc == nil {
		return services.CartView{}, nil
	}
	return s.updateQuantityFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
	if s.removeItemFunc == nil {
		return services.CartView{}, nil
	}
	return s.removeItemFunc(ctx, cmd)
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearCartFunc == nil {
		return nil
	}
	return s.clearCartFunc(ctx, userID)
}

func (s *stubCartService) Snapshot(ctx context.Context, userID string) (services.CartSnapshot, error) {
	if s.snapshotFunc == nil {
		return services.CartSnapshot{}, nil
	}
	return s.snapshotFunc(ctx, userID)
}

func newCartRequest(method, target string, body string, uid string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestCartHandlersGetCartSuccess(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	service := &stubCartService{
		getCartFunc: func(ctx context.Context, userID string) (services.CartView, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.CartView{
				UserID: "user-7",
				Lines: []services.CartViewLine{
					{
						ProductID: "prod-1",
						Name:      "Graphite Case",
						UnitPrice: 499,
						Quantity:  2,
						Variant:   services.Variant{Color: "black"},
						LineTotal: 998,
						InStock:   true,
					},
				},
				Subtotal:  998,
				UpdatedAt: now,
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodGet, "/cart", "", "user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.UserID != "user-7" {
		t.Fatalf("expected user user-7, got %q", resp.Cart.UserID)
	}
	if resp.Cart.ItemsCount != 1 || len(resp.Cart.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", resp.Cart.ItemsCount)
	}
	if resp.Cart.Lines[0].LineTotal != 998 {
		t.Fatalf("expected line total 998, got %v", resp.Cart.Lines[0].LineTotal)
	}
	if resp.Cart.Subtotal != 998 {
		t.Fatalf("expected subtotal 998, got %v", resp.Cart.Subtotal)
	}
}

func TestCartHandlersGetCartRequiresAuth(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodGet, "/cart", "", ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodGet, "/cart", "", "user-1"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			if cmd.UserID != "user-1" || cmd.ProductID != "prod-1" || cmd.Quantity != 2 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.Variant.Size != "M" {
				t.Fatalf("expected variant size M, got %q", cmd.Variant.Size)
			}
			return services.CartView{UserID: cmd.UserID, Subtotal: 240}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"product_id":"prod-1","quantity":2,"variant":{"size":"M"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodPost, "/cart/items", body, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItemInsufficientStock(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			return services.CartView{}, &services.InsufficientStockError{ProductID: "prod-1", Requested: 5, Available: 2}
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"product_id":"prod-1","quantity":5}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodPost, "/cart/items", body, "user-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "insufficient_stock") {
		t.Fatalf("expected insufficient_stock code, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemRejectsInvalidJSON(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodPost, "/cart/items", "{not json", "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItemPassesVariant(t *testing.T) {
	service := &stubCartService{
		removeItemFunc: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
			if cmd.ProductID != "prod-9" {
				t.Fatalf("unexpected product id %q", cmd.ProductID)
			}
			if cmd.Variant.Size != "L" || cmd.Variant.Color != "red" {
				t.Fatalf("unexpected variant %+v", cmd.Variant)
			}
			return services.CartView{UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodDelete, "/cart/items/prod-9?size=L&color=red", "", "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersRemoveItemNotFound(t *testing.T) {
	service := &stubCartService{
		removeItemFunc: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
			return services.CartView{}, services.ErrCartLineNotFound
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodDelete, "/cart/items/prod-9", "", "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearCartFunc: func(ctx context.Context, userID string) error {
			cleared = true
			if userID != "user-1" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newCartRequest(http.MethodDelete, "/cart", "", "user-1"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be invoked")
	}
}
