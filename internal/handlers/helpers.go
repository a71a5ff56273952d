package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cellstore/api/internal/platform/auth"
	"github.com/cellstore/api/internal/platform/httpx"
	"github.com/cellstore/api/internal/services"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = 64 * 1024
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	data, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// requireIdentity extracts the authenticated principal or writes a 401 and
// returns false.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// Shared payload shapes -------------------------------------------------------

type variantPayload struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

type addressPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Street  string `json:"street"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

type orderItemPayload struct {
	ProductID string         `json:"product_id"`
	Name      string         `json:"name"`
	Quantity  int            `json:"quantity"`
	UnitPrice float64        `json:"unit_price"`
	Variant   variantPayload `json:"variant"`
	LineTotal float64        `json:"line_total"`
}

type totalsPayload struct {
	Subtotal   float64 `json:"subtotal"`
	Discount   float64 `json:"discount"`
	CouponCode string  `json:"coupon_code,omitempty"`
	Shipping   float64 `json:"shipping"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grand_total"`
}

type statusChangePayload struct {
	Status string `json:"status"`
	At     string `json:"at"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	Items           []orderItemPayload    `json:"items"`
	Address         addressPayload        `json:"address"`
	Totals          totalsPayload         `json:"totals"`
	ShippingOption  string                `json:"shipping_option"`
	PaymentMethod   string                `json:"payment_method"`
	PaymentIntentID string                `json:"payment_intent_id,omitempty"`
	Status          string                `json:"status"`
	StatusHistory   []statusChangePayload `json:"status_history"`
	TrackingNumber  string                `json:"tracking_number,omitempty"`
	Carrier         string                `json:"carrier,omitempty"`
	ShippedAt       string                `json:"shipped_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	CreatedAt       string                `json:"created_at,omitempty"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
}

func buildVariantPayload(v services.Variant) variantPayload {
	return variantPayload{Size: v.Size, Color: v.Color}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Name:    addr.Name,
		Phone:   addr.Phone,
		Street:  addr.Street,
		City:    addr.City,
		Pincode: addr.Pincode,
	}
}

func buildTotalsPayload(totals services.OrderTotals) totalsPayload {
	return totalsPayload{
		Subtotal:   totals.Subtotal,
		Discount:   totals.Discount,
		CouponCode: totals.CouponCode,
		Shipping:   totals.Shipping,
		Tax:        totals.Tax,
		GrandTotal: totals.GrandTotal,
	}
}

func buildOrderItemPayloads(items []services.OrderItem) []orderItemPayload {
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Variant:   buildVariantPayload(item.Variant),
			LineTotal: item.UnitPrice * float64(item.Quantity),
		})
	}
	return payload
}

func buildOrderPayload(order services.Order) orderPayload {
	history := make([]statusChangePayload, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangePayload{
			Status: string(change.Status),
			At:     formatTime(change.At),
		})
	}
	return orderPayload{
		ID:              order.ID,
		UserID:          order.UserID,
		Items:           buildOrderItemPayloads(order.Items),
		Address:         buildAddressPayload(order.Address),
		Totals:          buildTotalsPayload(order.Totals),
		ShippingOption:  string(order.ShippingOption),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: order.PaymentIntentID,
		Status:          string(order.Status),
		StatusHistory:   history,
		TrackingNumber:  order.TrackingNumber,
		Carrier:         order.Carrier,
		ShippedAt:       formatTimePointer(order.ShippedAt),
		DeliveredAt:     formatTimePointer(order.DeliveredAt),
		CancelledAt:     formatTimePointer(order.CancelledAt),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}
