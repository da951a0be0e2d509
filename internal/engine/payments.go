package engine

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Payment calls go over the network and never run under a ride lock. The
// ride's PaymentID is written back in a second short critical section.

type settlement int

const (
	settleNone settlement = iota
	settleCapture
	settleCancel
)

// holdPayment pre-authorises the fare for a freshly accepted ride. A hold
// that lands after the ride already finished or was cancelled is settled to
// match instead of being recorded.
func (e *Engine) holdPayment(ctx context.Context, accepted models.Ride) {
	if e.payments == nil {
		return
	}
	pid, err := e.payments.Hold(context.WithoutCancel(ctx), accepted)
	if err != nil {
		e.logger.Warn("payment hold failed", "ride_id", accepted.ID, "error", err)
		return
	}
	e.settlePayment(ctx, accepted.ID, pid, e.attachPayment(ctx, accepted, pid))
}

func (e *Engine) attachPayment(ctx context.Context, accepted models.Ride, paymentID string) settlement {
	unlock := e.locks.Lock(accepted.ID)
	defer unlock()

	r, ok := e.ride(accepted.ID)
	if !ok || r.DriverID != accepted.DriverID || r.PaymentID != "" {
		return settleCancel
	}
	switch r.Status {
	case models.RideAccepted, models.RideInProgress:
		r.PaymentID = paymentID
		e.putRide(r)
		e.persist(ctx, &r)
		return settleNone
	case models.RideCompleted:
		return settleCapture
	default:
		return settleCancel
	}
}

func (e *Engine) settlePayment(ctx context.Context, rideID, paymentID string, how settlement) {
	if paymentID == "" || e.payments == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	switch how {
	case settleCapture:
		if err := e.payments.Capture(ctx, paymentID); err != nil {
			e.logger.Warn("payment capture failed", "ride_id", rideID, "error", err)
		}
	case settleCancel:
		if err := e.payments.Cancel(ctx, paymentID); err != nil {
			e.logger.Warn("payment cancel failed", "ride_id", rideID, "error", err)
		}
	}
}
