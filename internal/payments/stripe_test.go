package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	stripe "github.com/stripe/stripe-go/v74"

	"github.com/example/ride-dispatch/internal/models"
)

type stripeCall struct {
	method, path string
	form         map[string]string
}

func fakeStripe(t *testing.T) (*[]stripeCall, func()) {
	t.Helper()
	var mu sync.Mutex
	var calls []stripeCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		calls = append(calls, stripeCall{method: r.Method, path: r.URL.Path, form: form})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_test_1","object":"payment_intent","status":"requires_capture"}`))
	}))
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}))
	return &calls, func() {
		srv.Close()
		stripe.SetBackend(stripe.APIBackend, nil)
	}
}

func TestHoldCaptureCancel(t *testing.T) {
	calls, done := fakeStripe(t)
	defer done()

	c := NewStripeClient("sk_test_fake", 1500, "usd")
	ctx := context.Background()
	id, err := c.Hold(ctx, models.Ride{ID: "R1", RiderID: "u1", DriverID: "D1"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if id != "pi_test_1" {
		t.Fatalf("unexpected payment id %q", id)
	}
	if err := c.Capture(ctx, id); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := c.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if len(*calls) != 3 {
		t.Fatalf("expected 3 stripe calls, got %d", len(*calls))
	}
	hold := (*calls)[0]
	if hold.path != "/v1/payment_intents" || hold.form["capture_method"] != "manual" || hold.form["amount"] != "1500" {
		t.Fatalf("unexpected hold request: %+v", hold)
	}
	if hold.form["metadata[ride_id]"] != "R1" {
		t.Fatalf("ride id not attached as metadata: %+v", hold.form)
	}
	if (*calls)[1].path != "/v1/payment_intents/pi_test_1/capture" || (*calls)[2].path != "/v1/payment_intents/pi_test_1/cancel" {
		t.Fatalf("unexpected capture/cancel paths: %+v", (*calls)[1:])
	}
}
