package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// AcceptOffer resolves the race for a ride in favour of driverID. Exactly one
// caller per ride can succeed; everyone else gets ErrConflict. The payment
// hold is placed after the ride lock is released.
func (e *Engine) AcceptOffer(ctx context.Context, rideID, driverID string) (models.Offer, error) {
	accepted, r, err := e.accept(ctx, rideID, driverID)
	if err != nil {
		return models.Offer{}, err
	}
	e.holdPayment(ctx, r)
	return accepted, nil
}

func (e *Engine) accept(ctx context.Context, rideID, driverID string) (models.Offer, models.Ride, error) {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return models.Offer{}, models.Ride{}, rideNotFound(rideID)
	}
	o, ok := e.ledger.Find(rideID, driverID)
	if !ok {
		return models.Offer{}, models.Ride{}, fmt.Errorf("offer for ride %s driver %s: %w", rideID, driverID, models.ErrNotFound)
	}
	if r.Status != models.RideBroadcasting {
		observability.AcceptConflicts.Inc()
		return models.Offer{}, models.Ride{}, fmt.Errorf("ride %s is %s: %w", rideID, r.Status, models.ErrConflict)
	}

	otp, err := generateOTP(e.cfg.OTPDigits)
	if err != nil {
		return models.Offer{}, models.Ride{}, err
	}
	now := e.clock()
	accepted, declined, err := e.ledger.Accept(o.ID, otp, now)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.AcceptConflicts.Inc()
		}
		return models.Offer{}, models.Ride{}, err
	}
	if err := setStatus(&r, models.RideAccepted, now); err != nil {
		// Unreachable while the ride lock is held; broadcasting -> accepted is in the table.
		return models.Offer{}, models.Ride{}, err
	}
	r.DriverID = driverID
	e.putRide(r)
	if err := e.registry.SetAvailability(context.WithoutCancel(ctx), driverID, false); err != nil {
		e.logger.Warn("mark driver unavailable failed", "driver_id", driverID, "error", err)
	}
	e.persist(ctx, &r, append(declined, accepted)...)

	observability.OffersResolved.WithLabelValues("accepted").Inc()
	e.logger.Info("offer accepted", "ride_id", rideID, "driver_id", driverID, "offer_id", accepted.ID, "siblings_declined", len(declined))
	e.notifyDriver(ctx, models.EventOfferAccepted, driverID, rideID)
	e.notifyRider(ctx, models.EventOfferAccepted, r)
	for _, sib := range declined {
		observability.OffersResolved.WithLabelValues("superseded").Inc()
		e.notifyDriver(ctx, models.EventOfferWithdrawn, sib.DriverID, rideID)
	}
	return accepted, r, nil
}

// DeclineOffer records the driver's refusal, excludes the driver from future
// offers for this ride and returns the ride to pending.
func (e *Engine) DeclineOffer(ctx context.Context, rideID, driverID string) error {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return rideNotFound(rideID)
	}
	o, ok := e.ledger.Find(rideID, driverID)
	if !ok {
		return fmt.Errorf("offer for ride %s driver %s: %w", rideID, driverID, models.ErrNotFound)
	}
	now := e.clock()
	declined, err := e.ledger.Transition(o.ID, models.OfferDeclined, now)
	if err != nil {
		return err
	}
	e.exclude(&r, driverID)
	e.requeueIfIdle(&r)
	r.UpdatedAt = now
	e.putRide(r)
	e.persist(ctx, &r, declined)

	observability.OffersResolved.WithLabelValues("declined").Inc()
	e.logger.Info("offer declined", "ride_id", rideID, "driver_id", driverID, "ride_status", r.Status)
	e.signal()
	return nil
}

// VerifyOTP starts the ride when code matches the OTP generated at acceptance.
func (e *Engine) VerifyOTP(ctx context.Context, rideID, code string) error {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return rideNotFound(rideID)
	}
	if r.Status != models.RideAccepted {
		return fmt.Errorf("ride %s is %s: %w", rideID, r.Status, models.ErrInvalidState)
	}
	o, ok := e.ledger.AcceptedForRide(rideID)
	if !ok {
		return fmt.Errorf("ride %s has no accepted offer: %w", rideID, models.ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(o.OTP)) != 1 {
		observability.OTPMismatches.Inc()
		return fmt.Errorf("ride %s: %w", rideID, models.ErrInvalidOTP)
	}
	if err := setStatus(&r, models.RideInProgress, e.clock()); err != nil {
		return err
	}
	e.putRide(r)
	e.persist(ctx, &r)

	e.logger.Info("ride started", "ride_id", rideID, "driver_id", r.DriverID)
	e.notifyRider(ctx, models.EventRideStarted, r)
	e.notifyDriver(ctx, models.EventRideStarted, r.DriverID, rideID)
	return nil
}

// CompleteRide finishes a ride from in_progress, or from accepted when the
// OTP step was skipped, and frees the driver.
func (e *Engine) CompleteRide(ctx context.Context, rideID string) (models.Ride, error) {
	r, err := e.complete(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	e.settlePayment(ctx, r.ID, r.PaymentID, settleCapture)
	return r, nil
}

func (e *Engine) complete(ctx context.Context, rideID string) (models.Ride, error) {
	unlock := e.locks.Lock(rideID)
	defer unlock()

	r, ok := e.ride(rideID)
	if !ok {
		return models.Ride{}, rideNotFound(rideID)
	}
	if err := setStatus(&r, models.RideCompleted, e.clock()); err != nil {
		return models.Ride{}, err
	}
	e.ledger.Purge(rideID)
	e.putRide(r)
	e.releaseDriver(ctx, r.DriverID)
	e.persist(ctx, &r)
	e.dropOffers(ctx, rideID)

	observability.RidesCompleted.Inc()
	e.logger.Info("ride completed", "ride_id", rideID, "driver_id", r.DriverID)
	e.notifyRider(ctx, models.EventRideCompleted, r)
	e.notifyDriver(ctx, models.EventRideCompleted, r.DriverID, rideID)
	return r, nil
}

func (e *Engine) exclude(r *models.Ride, driverID string) {
	if !r.HasDeclined(driverID) {
		r.Declined = append(r.Declined, driverID)
	}
}

// requeueIfIdle returns a broadcasting ride to pending once it has no active
// offer left.
func (e *Engine) requeueIfIdle(r *models.Ride) {
	if r.Status != models.RideBroadcasting || len(e.ledger.ActiveForRide(r.ID)) > 0 {
		return
	}
	r.Status = models.RidePending
}
