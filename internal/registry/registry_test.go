package registry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *fakeClock                   { return &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)} }

type recordingStore struct{ saved []models.Driver }

func (s *recordingStore) SaveDriver(ctx context.Context, d models.Driver) error {
	s.saved = append(s.saved, d)
	return nil
}

type failingMirror struct{ calls int }

func (m *failingMirror) Upsert(ctx context.Context, d models.Driver) error {
	m.calls++
	return errors.New("redis down")
}

func TestRegisterIsIdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	st := &recordingStore{}
	r := New(st, 30*time.Second, WithClock(clk.Now))

	if _, err := r.Register(ctx, RegisterDriver{ID: "d1", Location: models.Coord{Lat: 1, Lon: 1}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.SetAvailability(ctx, "d1", false); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if err := r.RecordRating(ctx, "d1", 3); err != nil {
		t.Fatalf("rating: %v", err)
	}
	d, err := r.Register(ctx, RegisterDriver{ID: "d1", Location: models.Coord{Lat: 2, Lon: 2}, SafetyVerified: true})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !d.Available || d.Loc.Lat != 2 || !d.SafetyVerified {
		t.Fatalf("re-register did not upsert: %+v", d)
	}
	if d.Rating != 3 || d.Ratings != 1 {
		t.Fatalf("re-register lost rating: %+v", d)
	}
	if len(st.saved) != 4 {
		t.Fatalf("expected 4 persisted writes, got %d", len(st.saved))
	}
}

func TestHeartbeatUnknownDriver(t *testing.T) {
	r := New(nil, time.Minute)
	err := r.Heartbeat(context.Background(), "ghost")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOnlineCombinesAvailabilityAndHeartbeat(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	st := &recordingStore{}
	r := New(st, 30*time.Second, WithClock(clk.Now))
	_, _ = r.Register(ctx, RegisterDriver{ID: "d1"})
	_, _ = r.Register(ctx, RegisterDriver{ID: "d2"})

	if !r.IsOnline("d1") {
		t.Fatalf("freshly registered driver should be online")
	}
	_ = r.SetAvailability(ctx, "d2", false)
	if r.IsOnline("d2") {
		t.Fatalf("unavailable driver reported online")
	}

	clk.Advance(31 * time.Second)
	if r.IsOnline("d1") {
		t.Fatalf("driver with stale heartbeat reported online")
	}
	saves := len(st.saved)
	if err := r.Heartbeat(ctx, "d1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if len(st.saved) != saves {
		t.Fatalf("heartbeat must not be persisted")
	}
	if !r.IsOnline("d1") {
		t.Fatalf("heartbeat did not restore liveness")
	}
	online := r.Online()
	if len(online) != 1 || online[0].ID != "d1" {
		t.Fatalf("unexpected online set: %+v", online)
	}
}

func TestUpdateLocationValidates(t *testing.T) {
	ctx := context.Background()
	r := New(nil, time.Minute)
	_, _ = r.Register(ctx, RegisterDriver{ID: "d1"})
	if err := r.UpdateLocation(ctx, "d1", models.Coord{Lat: 95}); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := r.UpdateLocation(ctx, "nope", models.Coord{}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMirrorFailureDoesNotFailMutation(t *testing.T) {
	m := &failingMirror{}
	r := New(nil, time.Minute, WithMirror(m))
	if _, err := r.Register(context.Background(), RegisterDriver{ID: "d1"}); err != nil {
		t.Fatalf("register should tolerate mirror failure: %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("expected mirror to be called once, got %d", m.calls)
	}
}

func TestRollingRating(t *testing.T) {
	ctx := context.Background()
	r := New(nil, time.Minute)
	_, _ = r.Register(ctx, RegisterDriver{ID: "d1"})
	_ = r.RecordRating(ctx, "d1", 4)
	_ = r.RecordRating(ctx, "d1", 1)
	d, _ := r.Get("d1")
	want := 0.8*4 + 0.2*1
	if math.Abs(d.Rating-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, d.Rating)
	}
	if err := r.RecordRating(ctx, "d1", 7); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for out-of-range score, got %v", err)
	}
}
