package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeEngine struct {
	expired, stale int
	online         []models.Driver
	staleAfter     time.Duration
}

func (f *fakeEngine) ExpireStaleOffers(ctx context.Context) int { return f.expired }

func (f *fakeEngine) StalePending(after time.Duration) int {
	f.staleAfter = after
	return f.stale
}

func (f *fakeEngine) OnlineDrivers() []models.Driver { return f.online }

func TestTickReports(t *testing.T) {
	f := &fakeEngine{expired: 2, stale: 1, online: []models.Driver{{ID: "D1"}, {ID: "D2"}}}
	s := &Service{Engine: f, StaleAfter: 5 * time.Minute}
	rep := s.Tick(context.Background())
	if rep.Expired != 2 || rep.StalePending != 1 || rep.Online != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if f.staleAfter != 5*time.Minute {
		t.Fatalf("stale threshold not passed through: %v", f.staleAfter)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Service{Engine: &fakeEngine{}, Interval: time.Millisecond}).Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}
