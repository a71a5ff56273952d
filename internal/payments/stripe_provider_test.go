package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type intentAPIStub struct {
	newFn func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *intentAPIStub) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.newFn == nil {
		return nil, errors.New("unexpected New call")
	}
	return s.newFn(params)
}

func (s *intentAPIStub) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFn(id, params)
}

func TestStripeCreateIntentConvertsToMinorUnits(t *testing.T) {
	now := time.Date(2024, time.August, 1, 10, 0, 0, 0, time.UTC)

	var gotParams *stripe.PaymentIntentParams
	api := &intentAPIStub{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			gotParams = params
			return &stripe.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret",
				Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
				Amount:       *params.Amount,
				Currency:     stripe.Currency("eur"),
			}, nil
		},
	}

	provider, err := NewStripeProvider(StripeProviderConfig{
		Intents: api,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewStripeProvider returned error: %v", err)
	}

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		Amount:         149.99,
		Currency:       "EUR",
		CustomerRef:    "user-1",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}

	if *gotParams.Amount != 14999 {
		t.Fatalf("Amount = %d, want 14999 minor units", *gotParams.Amount)
	}
	if *gotParams.Currency != "eur" {
		t.Fatalf("Currency = %q, want eur", *gotParams.Currency)
	}
	if gotParams.Metadata["customerRef"] != "user-1" {
		t.Fatalf("customerRef metadata = %q, want user-1", gotParams.Metadata["customerRef"])
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("intent = %+v, want pi_123 with client secret", intent)
	}
	if intent.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", intent.Status)
	}
}

func TestStripeCreateIntentValidatesInput(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: &intentAPIStub{}})
	if err != nil {
		t.Fatalf("NewStripeProvider returned error: %v", err)
	}

	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 0, Currency: "EUR"}); err == nil {
		t.Fatal("CreateIntent accepted zero amount")
	}
	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 10}); err == nil {
		t.Fatal("CreateIntent accepted missing currency")
	}
}

func TestStripeAPIFailureMapsToProviderUnavailable(t *testing.T) {
	api := &intentAPIStub{
		newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return nil, errors.New("connection refused")
		},
	}

	provider, err := NewStripeProvider(StripeProviderConfig{Intents: api})
	if err != nil {
		t.Fatalf("NewStripeProvider returned error: %v", err)
	}

	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 10, Currency: "EUR"}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("CreateIntent error = %v, want ErrProviderUnavailable", err)
	}
}

func TestStripeGetIntentStatusMapping(t *testing.T) {
	cases := map[stripe.PaymentIntentStatus]Status{
		stripe.PaymentIntentStatusSucceeded:  StatusSucceeded,
		stripe.PaymentIntentStatusCanceled:   StatusCanceled,
		stripe.PaymentIntentStatusProcessing: StatusPending,
	}

	for stripeStatus, want := range cases {
		api := &intentAPIStub{
			getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return &stripe.PaymentIntent{ID: id, Status: stripeStatus, Currency: stripe.Currency("eur")}, nil
			},
		}
		provider, err := NewStripeProvider(StripeProviderConfig{Intents: api})
		if err != nil {
			t.Fatalf("NewStripeProvider returned error: %v", err)
		}

		intent, err := provider.GetIntent(context.Background(), "pi_1")
		if err != nil {
			t.Fatalf("GetIntent returned error: %v", err)
		}
		if intent.Status != want {
			t.Fatalf("status for %s = %s, want %s", stripeStatus, intent.Status, want)
		}
	}
}
