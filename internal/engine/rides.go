package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// SubmitRide creates a pending ride. A rider may hold one non-terminal ride.
func (e *Engine) SubmitRide(ctx context.Context, req models.RideRequest) (models.Ride, error) {
	if req.RiderID == "" {
		return models.Ride{}, fmt.Errorf("%w: rider_id required", models.ErrInvalidArgument)
	}
	if err := req.Pickup.Validate(); err != nil {
		return models.Ride{}, err
	}
	if err := req.Dropoff.Validate(); err != nil {
		return models.Ride{}, err
	}
	if req.Class == "" {
		req.Class = models.ClassStandard
	}
	if !req.Class.Valid() {
		return models.Ride{}, fmt.Errorf("%w: unknown ride class %q", models.ErrInvalidArgument, req.Class)
	}

	now := e.clock()
	r := models.Ride{
		ID:           e.newID(),
		RiderID:      req.RiderID,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		Class:        req.Class,
		VehicleClass: req.VehicleClass,
		CallbackURL:  req.CallbackURL,
		Status:       models.RidePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	unlock := e.locks.Lock(r.ID)
	defer unlock()

	e.mu.Lock()
	if active, ok := e.activeByRider[req.RiderID]; ok {
		e.mu.Unlock()
		return models.Ride{}, fmt.Errorf("rider %s already has active ride %s: %w", req.RiderID, active, models.ErrConflict)
	}
	e.rides[r.ID] = r.Clone()
	e.activeByRider[r.RiderID] = r.ID
	e.lastByRider[r.RiderID] = r.ID
	e.mu.Unlock()

	e.persist(ctx, &r)
	observability.RidesSubmitted.Inc()
	e.logger.Info("ride submitted", "ride_id", r.ID, "rider_id", r.RiderID, "class", r.Class)
	e.signal()
	return r, nil
}

// CancelRide terminates a ride that has not started. Any driver holding an
// offer for it is released.
func (e *Engine) CancelRide(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := e.cancel(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	e.settlePayment(ctx, r.ID, r.PaymentID, settleCancel)
	return r, nil
}

func (e *Engine) cancel(ctx context.Context, rideID string) (models.Ride, error) {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return models.Ride{}, rideNotFound(rideID)
	}
	now := e.clock()
	if err := setStatus(&r, models.RideCancelled, now); err != nil {
		return models.Ride{}, err
	}

	var held []models.Offer
	for _, o := range e.ledger.ActiveForRide(rideID) {
		failed, err := e.ledger.Transition(o.ID, models.OfferFailed, now)
		if err != nil {
			continue
		}
		held = append(held, failed)
		if o.Status == models.OfferAccepted {
			e.releaseDriver(ctx, o.DriverID)
		} else {
			observability.OffersResolved.WithLabelValues("cancelled").Inc()
		}
	}
	e.ledger.Purge(rideID)
	e.putRide(r)

	e.persist(ctx, &r)
	e.dropOffers(ctx, rideID)

	observability.RidesCancelled.Inc()
	e.logger.Info("ride cancelled", "ride_id", rideID, "released_offers", len(held))
	e.notifyRider(ctx, models.EventRideCancelled, r)
	for _, o := range held {
		e.notifyDriver(ctx, models.EventRideCancelled, o.DriverID, rideID)
	}
	return r, nil
}

// Ride returns a copy of the ride.
func (e *Engine) Ride(rideID string) (models.Ride, error) {
	r, ok := e.ride(rideID)
	if !ok {
		return models.Ride{}, rideNotFound(rideID)
	}
	return r, nil
}

// PendingRides is a snapshot of rides awaiting an offer, in matcher order:
// priority classes first, then oldest first.
func (e *Engine) PendingRides() []models.Ride {
	e.mu.RLock()
	out := make([]models.Ride, 0)
	for _, r := range e.rides {
		if r.Status == models.RidePending {
			out = append(out, r.Clone())
		}
	}
	e.mu.RUnlock()
	SortForMatching(out)
	return out
}

// SortForMatching orders rides by class rank, creation time, then ID.
func SortForMatching(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		a, b := rides[i], rides[j]
		if a.Class.Rank() != b.Class.Rank() {
			return a.Class.Rank() < b.Class.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// StalePending counts rides that have been pending for longer than after.
func (e *Engine) StalePending(after time.Duration) int {
	cutoff := e.clock().Add(-after)
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, r := range e.rides {
		if r.Status == models.RidePending && r.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// RateDriver records the rider's score for the driver of a completed ride.
// Each ride can be rated once.
func (e *Engine) RateDriver(ctx context.Context, rideID string, score float64) error {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return rideNotFound(rideID)
	}
	if r.Status != models.RideCompleted || r.DriverID == "" {
		return fmt.Errorf("ride %s is %s: %w", rideID, r.Status, models.ErrInvalidState)
	}
	if r.Rated {
		return fmt.Errorf("ride %s already rated: %w", rideID, models.ErrConflict)
	}
	if err := e.registry.RecordRating(ctx, r.DriverID, score); err != nil {
		return err
	}
	r.Rated = true
	r.UpdatedAt = e.clock()
	e.putRide(r)
	e.persist(ctx, &r)
	return nil
}
