package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

var pickup = models.Coord{Lat: 12.9716, Lon: 77.5946}

func newEngine(t *testing.T, now func() time.Time) *engine.Engine {
	t.Helper()
	store := storage.NewMemoryStore()
	reg := registry.New(store, 30*time.Second, registry.WithClock(now))
	return engine.New(engine.Config{OfferTimeout: time.Minute}, reg, ledger.New(), store, engine.WithClock(now))
}

func register(t *testing.T, e *engine.Engine, id string, lat float64, verified bool) {
	t.Helper()
	in := registry.RegisterDriver{ID: id, Location: models.Coord{Lat: lat, Lon: pickup.Lon}, SafetyVerified: verified}
	if _, err := e.RegisterDriver(context.Background(), in); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func submit(t *testing.T, e *engine.Engine, rider string, class models.RideClass) models.Ride {
	t.Helper()
	r, err := e.SubmitRide(context.Background(), models.RideRequest{RiderID: rider, Pickup: pickup, Dropoff: pickup, Class: class})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return r
}

func offeredTo(e *engine.Engine, driverID string) string {
	return e.PollPendingOffer(driverID).RideID
}

func TestNearestDriverOfferedFirst(t *testing.T) {
	now := time.Now
	e := newEngine(t, now)
	register(t, e, "D1", pickup.Lat+0.045, true) // ~5 km
	register(t, e, "D2", pickup.Lat+0.009, true) // ~1 km
	r := submit(t, e, "u1", models.ClassStandard)

	s := &Service{Engine: e, ETA: &eta.Estimator{SpeedMps: 10}}
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 offer, got %d", n)
	}
	if offeredTo(e, "D2") != r.ID {
		t.Fatalf("expected offer to D2")
	}
	if offeredTo(e, "D1") != "" {
		t.Fatalf("D1 must not be offered while D2's offer is outstanding")
	}
	v := e.PollPendingOffer("D2")
	if v.DistanceM < 900 || v.DistanceM > 1100 || v.ETA <= 0 {
		t.Fatalf("offer not annotated with distance/eta: %+v", v)
	}

	// Ride is broadcasting now; another tick must not fan out.
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("expected no offers while broadcasting, got %d", n)
	}
}

func TestDeclineMovesToNextCandidate(t *testing.T) {
	e := newEngine(t, time.Now)
	register(t, e, "D1", pickup.Lat+0.045, true)
	register(t, e, "D2", pickup.Lat+0.009, true)
	r := submit(t, e, "u1", models.ClassStandard)
	s := &Service{Engine: e}

	s.Tick(context.Background())
	if err := e.DeclineOffer(context.Background(), r.ID, "D2"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if n := s.Tick(context.Background()); n != 1 {
		t.Fatalf("expected 1 offer after decline, got %d", n)
	}
	if offeredTo(e, "D1") != r.ID {
		t.Fatalf("expected next offer to D1")
	}
	if offeredTo(e, "D2") != "" {
		t.Fatalf("D2 declined and must not be re-offered")
	}
}

func TestPriorityRidesGetNearestDriver(t *testing.T) {
	clk := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return clk }
	e := newEngine(t, now)
	register(t, e, "D1", pickup.Lat+0.009, true)
	register(t, e, "D2", pickup.Lat+0.045, true)

	std := submit(t, e, "u1", models.ClassStandard)
	clk = clk.Add(time.Second)
	prio := submit(t, e, "u2", models.ClassPriority)

	s := &Service{Engine: e}
	if n := s.Tick(context.Background()); n != 2 {
		t.Fatalf("expected 2 offers, got %d", n)
	}
	if offeredTo(e, "D1") != prio.ID {
		t.Fatalf("priority ride should get the nearest driver")
	}
	if offeredTo(e, "D2") != std.ID {
		t.Fatalf("standard ride should get the remaining driver")
	}
}

func TestSchoolRideSkipsUnverifiedDriver(t *testing.T) {
	e := newEngine(t, time.Now)
	register(t, e, "near", pickup.Lat+0.001, false)
	register(t, e, "far", pickup.Lat+0.02, true)
	r := submit(t, e, "u1", models.ClassSchool)

	(&Service{Engine: e}).Tick(context.Background())
	if offeredTo(e, "far") != r.ID {
		t.Fatalf("school ride must go to the safety-verified driver")
	}
}

func TestNoEligibleDriverLeavesRidePending(t *testing.T) {
	e := newEngine(t, time.Now)
	r := submit(t, e, "u1", models.ClassStandard)
	if n := (&Service{Engine: e}).Tick(context.Background()); n != 0 {
		t.Fatalf("expected no offers, got %d", n)
	}
	got, _ := e.Ride(r.ID)
	if got.Status != models.RidePending {
		t.Fatalf("ride should stay pending, got %s", got.Status)
	}
}

func TestRunTicksOnWake(t *testing.T) {
	e := newEngine(t, time.Now)
	register(t, e, "D1", pickup.Lat+0.009, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- (&Service{Engine: e, Interval: time.Hour}).Run(ctx) }()

	r := submit(t, e, "u1", models.ClassStandard)
	deadline := time.Now().Add(2 * time.Second)
	for offeredTo(e, "D1") != r.ID {
		if time.Now().After(deadline) {
			t.Fatalf("wake signal did not trigger a tick")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
