package engine

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
)

// Driver operations go straight to the registry; the engine only wakes the
// matcher when a driver may have become a candidate.

// RegisterDriver creates or refreshes a driver and marks it available. A
// driver still assigned to a ride cannot re-register until that ride ends.
func (e *Engine) RegisterDriver(ctx context.Context, in registry.RegisterDriver) (models.Driver, error) {
	if err := e.refuseIfAssigned(in.ID); err != nil {
		return models.Driver{}, err
	}
	d, err := e.registry.Register(ctx, in)
	if err != nil {
		return models.Driver{}, err
	}
	e.signal()
	return d, nil
}

func (e *Engine) Heartbeat(ctx context.Context, driverID string) error {
	wasOnline := e.registry.IsOnline(driverID)
	if err := e.registry.Heartbeat(ctx, driverID); err != nil {
		return err
	}
	if !wasOnline {
		e.signal()
	}
	return nil
}

// SetAvailability refuses to mark a driver available while it holds an
// accepted ride; completion or cancellation does that.
func (e *Engine) SetAvailability(ctx context.Context, driverID string, available bool) error {
	if available {
		if err := e.refuseIfAssigned(driverID); err != nil {
			return err
		}
	}
	if err := e.registry.SetAvailability(ctx, driverID, available); err != nil {
		return err
	}
	if available {
		e.signal()
	}
	return nil
}

func (e *Engine) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	return e.registry.UpdateLocation(ctx, driverID, loc)
}

func (e *Engine) Driver(driverID string) (models.Driver, bool) {
	return e.registry.Get(driverID)
}

// OnlineDrivers is the registry snapshot the matcher ranks.
func (e *Engine) OnlineDrivers() []models.Driver {
	return e.registry.Online()
}

// DriverBusy reports whether the driver holds an active offer.
func (e *Engine) DriverBusy(driverID string) bool {
	return e.ledger.Busy(driverID)
}

func (e *Engine) refuseIfAssigned(driverID string) error {
	if o, ok := e.ledger.ActiveForDriver(driverID); ok && o.Status == models.OfferAccepted {
		return &DriverBusyError{DriverID: driverID, RideID: o.RideID}
	}
	return nil
}
