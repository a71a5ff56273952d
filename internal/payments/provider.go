package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states reported by the PSP.
type Status string

const (
	// StatusPending indicates the intent awaits customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the intent was cancelled before capture.
	StatusCanceled Status = "canceled"
)

// ErrProviderUnavailable is returned when the PSP cannot be reached or rejects
// the call for operational reasons. Checkout aborts order creation on it.
var ErrProviderUnavailable = errors.New("payments: provider unavailable")

// IntentRequest captures the payload required to open a payment intent.
// Amount is in major currency units; adapters convert to minor units.
type IntentRequest struct {
	Amount         float64
	Currency       string
	CustomerRef    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the PSP handle handed to the client for confirmation.
type Intent struct {
	ID           string
	ClientSecret string
	Status       Status
	AmountMinor  int64
	Currency     string
	CreatedAt    time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
}
