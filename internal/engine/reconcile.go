package engine

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ExpireStaleOffers expires every offer left unanswered for longer than the
// offer timeout. The driver is excluded from that ride and the ride returns
// to pending. It also requeues broadcasting rides that lost their offer.
// Running it repeatedly is safe.
func (e *Engine) ExpireStaleOffers(ctx context.Context) int {
	now := e.clock()
	expired := 0
	for _, o := range e.ledger.Stale(now.Add(-e.cfg.OfferTimeout)) {
		if e.expireOffer(ctx, o) {
			expired++
		}
	}
	requeued := e.requeueOrphans(ctx)
	if expired > 0 || requeued > 0 {
		e.logger.Info("reconciled offers", "expired", expired, "requeued", requeued)
		e.signal()
	}
	return expired
}

func (e *Engine) expireOffer(ctx context.Context, stale models.Offer) bool {
	unlock := e.locks.Lock(stale.RideID)
	defer unlock()

	now := e.clock()
	o, err := e.ledger.Transition(stale.ID, models.OfferExpired, now)
	if err != nil {
		// Resolved by accept/decline/cancel between snapshot and lock.
		return false
	}
	observability.OffersResolved.WithLabelValues("expired").Inc()

	r, ok := e.ride(o.RideID)
	if ok {
		e.exclude(&r, o.DriverID)
		e.requeueIfIdle(&r)
		r.UpdatedAt = now
		e.putRide(r)
		e.persist(ctx, &r, o)
	} else {
		e.persist(ctx, nil, o)
	}
	e.logger.Info("offer expired", "ride_id", o.RideID, "driver_id", o.DriverID, "offer_id", o.ID)
	e.notifyDriver(ctx, models.EventOfferWithdrawn, o.DriverID, o.RideID)
	return true
}

// requeueOrphans moves broadcasting rides with no active offer back to pending.
func (e *Engine) requeueOrphans(ctx context.Context) int {
	e.mu.RLock()
	var ids []string
	for id, r := range e.rides {
		if r.Status == models.RideBroadcasting {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()

	n := 0
	for _, id := range ids {
		unlock := e.locks.Lock(id)
		r, ok := e.ride(id)
		if ok && r.Status == models.RideBroadcasting && len(e.ledger.ActiveForRide(id)) == 0 {
			r.Status = models.RidePending
			r.UpdatedAt = e.clock()
			e.putRide(r)
			e.persist(ctx, &r)
			n++
		}
		unlock()
	}
	return n
}

// Recover rebuilds state from the store after a restart. Offers left active by
// the previous run are discarded, their drivers made available and their
// rides reset to pending. Rides already in progress keep their driver.
func (e *Engine) Recover(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	e.registry.Restore(snap.Drivers)

	offersByRide := make(map[string][]models.Offer)
	for _, o := range snap.Offers {
		offersByRide[o.RideID] = append(offersByRide[o.RideID], o)
	}

	now := e.clock()
	recovered := 0
	for _, r := range snap.Rides {
		if r.Status.Terminal() {
			continue
		}
		var keep []models.Offer
		var discarded []models.Offer
		for _, o := range offersByRide[r.ID] {
			switch {
			case r.Status == models.RideInProgress && o.Status == models.OfferAccepted:
				keep = append(keep, o)
			case o.Status.Active():
				discarded = append(discarded, o)
			}
		}

		for _, o := range discarded {
			if err := e.registry.SetAvailability(ctx, o.DriverID, true); err != nil {
				e.logger.Warn("recovery: release driver failed", "driver_id", o.DriverID, "error", err)
			}
		}
		if r.Status == models.RideBroadcasting || r.Status == models.RideAccepted {
			if r.PaymentID != "" && e.payments != nil {
				if err := e.payments.Cancel(ctx, r.PaymentID); err != nil {
					e.logger.Warn("recovery: payment cancel failed", "ride_id", r.ID, "error", err)
				}
			}
			r.Status = models.RidePending
			r.DriverID = ""
			r.PaymentID = ""
			r.UpdatedAt = now
			recovered++
			observability.RecoveredRides.Inc()
			e.persist(ctx, &r)
		}
		if len(discarded) > 0 {
			e.dropOffers(ctx, r.ID)
			e.persist(ctx, nil, keep...)
		}
		e.ledger.Restore(keep)
		e.putRide(r)
	}
	e.logger.Info("recovery complete", "rides", len(snap.Rides), "drivers", len(snap.Drivers), "reset_to_pending", recovered)
	if recovered > 0 {
		e.signal()
	}
	return nil
}
