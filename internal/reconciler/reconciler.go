// Package reconciler runs the periodic cleanup loop: it expires unanswered
// offers and reports rides that have waited too long for a driver.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type Engine interface {
	ExpireStaleOffers(ctx context.Context) int
	StalePending(after time.Duration) int
	OnlineDrivers() []models.Driver
}

type Service struct {
	Engine     Engine
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

func (s *Service) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Report is what a single reconciliation pass observed.
type Report struct {
	Expired      int
	StalePending int
	Online       int
}

func (s *Service) Tick(ctx context.Context) Report {
	rep := Report{Expired: s.Engine.ExpireStaleOffers(ctx)}
	if s.StaleAfter > 0 {
		rep.StalePending = s.Engine.StalePending(s.StaleAfter)
	}
	rep.Online = len(s.Engine.OnlineDrivers())

	observability.StalePendingRides.Set(float64(rep.StalePending))
	observability.DriversOnline.Set(float64(rep.Online))
	if rep.StalePending > 0 {
		s.logger().Warn("rides pending too long", "count", rep.StalePending, "after", s.StaleAfter.String(), "drivers_online", rep.Online)
	}
	return rep
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
