package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/models"
)

// StripeClient places a fixed pre-authorisation on a ride when a driver
// accepts it, captures it on completion and releases it on cancellation.
type StripeClient struct {
	amount   int64
	currency string
}

// NewStripeClient sets the package-level stripe key; amount is in the
// currency's minor unit.
func NewStripeClient(apiKey string, amount int64, currency string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{amount: amount, currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual and returns its ID.
func (s *StripeClient) Hold(ctx context.Context, ride models.Ride) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(s.amount),
		Currency:    stripe.String(s.currency),
		Description: stripe.String("ride " + ride.ID),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("ride_id", ride.ID)
	params.AddMetadata("rider_id", ride.RiderID)
	params.AddMetadata("driver_id", ride.DriverID)
	params.SetIdempotencyKey("hold-" + ride.ID)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("hold for ride %s: %w", ride.ID, err)
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
