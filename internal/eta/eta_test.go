package eta

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type stubClient struct {
	v     float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(from, to models.Coord) (float64, error) {
	s.calls++
	return s.v, s.err
}

func TestEstimatorUsesClientAndCaches(t *testing.T) {
	c := &stubClient{v: 42}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), SpeedMps: 10}
	a, b := models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 1.01, Lon: 1}
	if got := e.Estimate(a, b); got != 42 {
		t.Fatalf("expected 42, got %f", got)
	}
	if got := e.Estimate(a, b); got != 42 {
		t.Fatalf("expected cached 42, got %f", got)
	}
	if c.calls != 1 {
		t.Fatalf("expected one client call, got %d", c.calls)
	}
}

func TestEstimatorFallsBackToNaive(t *testing.T) {
	e := &Estimator{Client: &stubClient{err: errors.New("osrm down")}, SpeedMps: 10}
	a, b := models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0.01, Lon: 0}
	want := EstimateSeconds(a, b, 10)
	if got := e.Estimate(a, b); got != want {
		t.Fatalf("expected naive %f, got %f", want, got)
	}
}

func TestCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Second)
	c.now = func() time.Time { return now }
	a := models.Coord{Lat: 1, Lon: 2}
	c.Set(a, a, 5)
	now = now.Add(2 * time.Second)
	if _, ok := c.Get(a, a); ok {
		t.Fatalf("expected entry to expire")
	}
}
