package engine

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// PollPendingOffer is the driver's poll endpoint: the offer or assignment the
// driver currently holds. Push events carry the same view.
func (e *Engine) PollPendingOffer(driverID string) models.DriverView {
	o, ok := e.ledger.ActiveForDriver(driverID)
	if !ok {
		return models.DriverView{}
	}
	r, ok := e.ride(o.RideID)
	if !ok {
		return models.DriverView{}
	}
	pickup, dropoff, offered := r.Pickup, r.Dropoff, o.CreatedAt
	return models.DriverView{
		HasOffer:   true,
		OfferID:    o.ID,
		RideID:     r.ID,
		RiderID:    r.RiderID,
		Status:     o.Status,
		Pickup:     &pickup,
		Dropoff:    &dropoff,
		DistanceM:  o.DistanceM,
		ETA:        o.ETA,
		RideStatus: r.Status,
		OfferedAt:  &offered,
	}
}

// PollRideStatus is the rider's poll endpoint: the rider's active ride, or the
// most recent one once it has finished.
func (e *Engine) PollRideStatus(riderID string) models.RiderView {
	e.mu.RLock()
	id, ok := e.activeByRider[riderID]
	if !ok {
		id, ok = e.lastByRider[riderID]
	}
	e.mu.RUnlock()
	if !ok {
		return models.RiderView{}
	}
	r, ok := e.ride(id)
	if !ok {
		return models.RiderView{}
	}
	return e.riderView(r)
}

func (e *Engine) riderView(r models.Ride) models.RiderView {
	pickup, dropoff, updated := r.Pickup, r.Dropoff, r.UpdatedAt
	v := models.RiderView{
		HasRide:   true,
		RideID:    r.ID,
		Status:    r.Status,
		DriverID:  r.DriverID,
		Pickup:    &pickup,
		Dropoff:   &dropoff,
		UpdatedAt: &updated,
	}
	if r.Status == models.RideAccepted || r.Status == models.RideInProgress {
		if d, ok := e.registry.Get(r.DriverID); ok {
			loc := d.Loc
			v.DriverLocation = &loc
		}
	}
	if r.Status == models.RideAccepted {
		if o, ok := e.ledger.AcceptedForRide(r.ID); ok {
			v.OTP = o.OTP
		}
	}
	return v
}

func (e *Engine) notifyDriver(ctx context.Context, kind models.EventKind, driverID, rideID string) {
	if e.notifier == nil || driverID == "" {
		return
	}
	view := e.PollPendingOffer(driverID)
	ev := models.Event{
		Kind:        kind,
		Role:        models.RoleDriver,
		RecipientID: driverID,
		RideID:      rideID,
		Driver:      &view,
		At:          e.clock(),
	}
	if d, ok := e.registry.Get(driverID); ok {
		ev.CallbackURL = d.CallbackURL
	}
	e.notifier.Publish(ctx, ev)
}

func (e *Engine) notifyRider(ctx context.Context, kind models.EventKind, r models.Ride) {
	if e.notifier == nil {
		return
	}
	view := e.riderView(r)
	e.notifier.Publish(ctx, models.Event{
		Kind:        kind,
		Role:        models.RoleRider,
		RecipientID: r.RiderID,
		RideID:      r.ID,
		Rider:       &view,
		At:          e.clock(),
		CallbackURL: r.CallbackURL,
	})
}
