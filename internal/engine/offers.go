package engine

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// OfferRequest is the matcher's choice of driver for a pending ride.
type OfferRequest struct {
	RideID    string
	DriverID  string
	DistanceM float64
	ETA       float64
}

// OpenOffer creates an offer and moves the ride to broadcasting. It re-checks
// the matcher's snapshot under the ride lock: a ride that left pending, or a
// driver that went offline, declined earlier or got another offer meanwhile,
// yields ErrConflict.
func (e *Engine) OpenOffer(ctx context.Context, req OfferRequest) (models.Offer, error) {
	unlock := e.locks.Lock(req.RideID)
	defer unlock()

	r, ok := e.ride(req.RideID)
	if !ok {
		return models.Offer{}, rideNotFound(req.RideID)
	}
	if r.Status != models.RidePending {
		return models.Offer{}, fmt.Errorf("ride %s is %s: %w", r.ID, r.Status, models.ErrConflict)
	}
	d, ok := e.registry.Get(req.DriverID)
	if !ok {
		return models.Offer{}, fmt.Errorf("driver %s: %w", req.DriverID, models.ErrNotFound)
	}
	if !e.registry.IsOnline(d.ID) || !d.EligibleFor(&r) || r.HasDeclined(d.ID) {
		return models.Offer{}, fmt.Errorf("driver %s no longer a candidate for ride %s: %w", d.ID, r.ID, models.ErrConflict)
	}

	now := e.clock()
	o := models.Offer{
		ID:        e.newID(),
		RideID:    r.ID,
		DriverID:  d.ID,
		Status:    models.OfferOffered,
		DistanceM: req.DistanceM,
		ETA:       req.ETA,
		CreatedAt: now,
	}
	if err := setStatus(&r, models.RideBroadcasting, now); err != nil {
		return models.Offer{}, err
	}
	if err := e.ledger.Open(o); err != nil {
		return models.Offer{}, err
	}
	e.putRide(r)
	e.persist(ctx, &r, o)

	observability.OffersCreated.Inc()
	e.logger.Info("offer created", "ride_id", r.ID, "driver_id", d.ID, "offer_id", o.ID, "distance_m", int(req.DistanceM))
	e.notifyDriver(ctx, models.EventOfferCreated, d.ID, r.ID)
	return o, nil
}
