package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeApplier fails the first failLoc location updates and failHB heartbeats.
type fakeApplier struct {
	failLoc, failHB int
	locCalls        int
	hbCalls         int
	lastLoc         models.Coord
	notFound        bool
}

func (f *fakeApplier) UpdateLocation(ctx context.Context, id string, loc models.Coord) error {
	f.locCalls++
	if f.notFound {
		return fmt.Errorf("driver %s: %w", id, models.ErrNotFound)
	}
	if f.locCalls <= f.failLoc {
		return errors.New("store unavailable")
	}
	f.lastLoc = loc
	return nil
}

func (f *fakeApplier) Heartbeat(ctx context.Context, id string) error {
	f.hbCalls++
	if f.hbCalls <= f.failHB {
		return errors.New("store unavailable")
	}
	return nil
}

func ptr(v float64) *float64 { return &v }

func TestApplyWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &fakeApplier{failLoc: 1, failHB: 1}
	msg := Message{DriverID: "d1", Lat: ptr(1), Lon: ptr(2), Heartbeat: true}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, msg, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.locCalls < 2 || f.hbCalls < 2 {
		t.Fatalf("expected retries, got loc=%d hb=%d", f.locCalls, f.hbCalls)
	}
	if f.lastLoc != (models.Coord{Lat: 1, Lon: 2}) {
		t.Fatalf("location not applied: %+v", f.lastLoc)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestApplyWithRetryFailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{failLoc: 5}
	msg := Message{DriverID: "d1", Lat: ptr(1), Lon: ptr(2)}
	if err := applyWithRetry(context.Background(), f, msg, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.locCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.locCalls)
	}
}

func TestUnknownDriverNotRetried(t *testing.T) {
	f := &fakeApplier{notFound: true}
	msg := Message{DriverID: "ghost", Lat: ptr(1), Lon: ptr(2)}
	err := applyWithRetry(context.Background(), f, msg, 3, time.Millisecond)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.locCalls != 1 {
		t.Fatalf("unknown driver retried %d times", f.locCalls)
	}
}

func TestDecode(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{`{"driver_id":"d1","lat":1,"lon":2}`, true},
		{`{"driver_id":"d1","heartbeat":true}`, true},
		{`{"driver_id":"d1","lat":1}`, false},
		{`{"lat":1,"lon":2}`, false},
		{`not json`, false},
	}
	for _, tc := range cases {
		_, err := decode([]byte(tc.in))
		if (err == nil) != tc.valid {
			t.Errorf("%s: valid=%v, err=%v", tc.in, tc.valid, err)
		}
	}
}

func TestHandleHeartbeatOnly(t *testing.T) {
	f := &fakeApplier{}
	c := &TelemetryConsumer{applier: f, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Attempts: 1}
	c.Handle(context.Background(), []byte(`{"driver_id":"d1","heartbeat":true}`))
	if f.hbCalls != 1 || f.locCalls != 0 {
		t.Fatalf("expected heartbeat only, got loc=%d hb=%d", f.locCalls, f.hbCalls)
	}
}
