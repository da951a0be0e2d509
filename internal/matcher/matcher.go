// Package matcher runs the dispatch loop: every tick it walks pending rides in
// priority order and offers each one to its nearest eligible driver.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Engine is the part of the dispatch engine the matcher drives.
type Engine interface {
	PendingRides() []models.Ride
	OnlineDrivers() []models.Driver
	DriverBusy(driverID string) bool
	OpenOffer(ctx context.Context, req engine.OfferRequest) (models.Offer, error)
	Wake() <-chan struct{}
}

type Service struct {
	Engine   Engine
	ETA      *eta.Estimator // optional
	Interval time.Duration
	Logger   *slog.Logger
}

// Run ticks until ctx is done. The engine's wake signal triggers an early tick.
func (s *Service) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger().Info("matcher started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger().Info("matcher stopped")
			return nil
		case <-ticker.C:
		case <-s.Engine.Wake():
		}
		s.Tick(ctx)
	}
}

// Tick makes at most one offer per pending ride and returns how many offers
// were created.
func (s *Service) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { observability.MatcherTick.Observe(time.Since(start).Seconds()) }()

	rides := s.Engine.PendingRides()
	if len(rides) == 0 {
		return 0
	}
	drivers := s.Engine.OnlineDrivers()
	claimed := make(map[string]bool)
	for _, d := range drivers {
		if s.Engine.DriverBusy(d.ID) {
			claimed[d.ID] = true
		}
	}

	offered := 0
	for i := range rides {
		if ctx.Err() != nil {
			break
		}
		r := &rides[i]
		driverID, res := s.offer(ctx, r, candidates(r, drivers, claimed))
		switch res {
		case offerCreated:
			claimed[driverID] = true
			offered++
		case offerStarved:
			observability.StarvedRides.Inc()
			s.logger().Debug("no eligible driver", "ride_id", r.ID, "class", r.Class)
		}
	}
	return offered
}

type offerResult int

const (
	offerCreated offerResult = iota
	offerStarved
	// offerSkipped means the ride left pending while the tick ran.
	offerSkipped
	offerFailed
)

// offer tries candidates nearest first until one offer sticks.
func (s *Service) offer(ctx context.Context, r *models.Ride, cands []geo.Candidate) (string, offerResult) {
	for _, c := range cands {
		req := engine.OfferRequest{RideID: r.ID, DriverID: c.Driver.ID, DistanceM: c.DistanceM}
		if s.ETA != nil {
			req.ETA = s.ETA.Estimate(c.Driver.Loc, r.Pickup)
		}
		_, err := s.Engine.OpenOffer(ctx, req)
		if err == nil {
			return c.Driver.ID, offerCreated
		}
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			// Snapshot went stale: ride left pending or the driver was taken.
			s.logger().Debug("offer skipped", "ride_id", r.ID, "driver_id", c.Driver.ID, "error", err)
			if errors.Is(err, models.ErrConflict) && !s.stillPending(r.ID) {
				return "", offerSkipped
			}
			continue
		}
		s.logger().Error("open offer failed", "ride_id", r.ID, "driver_id", c.Driver.ID, "error", err)
		return "", offerFailed
	}
	return "", offerStarved
}

func (s *Service) stillPending(rideID string) bool {
	for _, r := range s.Engine.PendingRides() {
		if r.ID == rideID {
			return true
		}
	}
	return false
}

// candidates filters drivers to those that may take r and ranks them by
// distance to pickup.
func candidates(r *models.Ride, drivers []models.Driver, claimed map[string]bool) []geo.Candidate {
	eligible := make([]models.Driver, 0, len(drivers))
	for i := range drivers {
		d := &drivers[i]
		if claimed[d.ID] || r.HasDeclined(d.ID) || !d.EligibleFor(r) {
			continue
		}
		eligible = append(eligible, *d)
	}
	return geo.Rank(r.Pickup, eligible)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
