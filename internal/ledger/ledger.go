// Package ledger is the in-memory set of match offers. It enforces the two
// cross-offer invariants: a driver holds at most one active offer, and a ride
// has at most one accepted offer.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Ledger struct {
	mu       sync.RWMutex
	offers   map[string]models.Offer
	byRide   map[string][]string
	byDriver map[string]string // driver -> active offer
}

func New() *Ledger {
	return &Ledger{
		offers:   make(map[string]models.Offer),
		byRide:   make(map[string][]string),
		byDriver: make(map[string]string),
	}
}

// Open records a new offer. It fails with ErrConflict when the driver already
// holds an active offer for any ride.
func (l *Ledger) Open(o models.Offer) error {
	if o.Status != models.OfferOffered {
		return fmt.Errorf("%w: new offer must be %s, got %s", models.ErrInvalidState, models.OfferOffered, o.Status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.offers[o.ID]; dup {
		return fmt.Errorf("offer %s: %w", o.ID, models.ErrConflict)
	}
	if held, busy := l.byDriver[o.DriverID]; busy {
		return fmt.Errorf("driver %s already holds offer %s: %w", o.DriverID, held, models.ErrConflict)
	}
	l.insert(o)
	return nil
}

// Accept moves offerID to accepted with the given OTP and declines every other
// active offer of the same ride in the same critical section. It returns the
// accepted offer and the siblings it declined.
func (l *Ledger) Accept(offerID, otp string, at time.Time) (models.Offer, []models.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.offers[offerID]
	if !ok {
		return models.Offer{}, nil, fmt.Errorf("offer %s: %w", offerID, models.ErrNotFound)
	}
	if o.Status != models.OfferOffered {
		return models.Offer{}, nil, fmt.Errorf("offer %s is %s: %w", offerID, o.Status, models.ErrConflict)
	}
	for _, id := range l.byRide[o.RideID] {
		if id != offerID && l.offers[id].Status == models.OfferAccepted {
			return models.Offer{}, nil, fmt.Errorf("ride %s already accepted by offer %s: %w", o.RideID, id, models.ErrConflict)
		}
	}

	var declined []models.Offer
	for _, id := range l.byRide[o.RideID] {
		sib := l.offers[id]
		if id == offerID || sib.Status != models.OfferOffered {
			continue
		}
		l.set(sib, models.OfferDeclined, at)
		declined = append(declined, l.offers[id])
	}
	o.OTP = otp
	l.set(o, models.OfferAccepted, at)
	return l.offers[offerID], declined, nil
}

// Transition applies a single status change allowed by the offer transition
// table. A disallowed change from a resolved status is a Conflict.
func (l *Ledger) Transition(offerID string, to models.OfferStatus, at time.Time) (models.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.offers[offerID]
	if !ok {
		return models.Offer{}, fmt.Errorf("offer %s: %w", offerID, models.ErrNotFound)
	}
	if !o.Status.CanTransition(to) {
		return models.Offer{}, fmt.Errorf("offer %s %s -> %s: %w", offerID, o.Status, to, models.ErrConflict)
	}
	l.set(o, to, at)
	return l.offers[offerID], nil
}

// Purge drops every offer of a ride and returns them.
func (l *Ledger) Purge(rideID string) []models.Offer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Offer
	for _, id := range l.byRide[rideID] {
		o := l.offers[id]
		if l.byDriver[o.DriverID] == id {
			delete(l.byDriver, o.DriverID)
		}
		delete(l.offers, id)
		out = append(out, o)
	}
	delete(l.byRide, rideID)
	return out
}

// Restore loads offers verbatim. Callers resolve invariant violations first.
func (l *Ledger) Restore(offers []models.Offer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range offers {
		l.insert(o)
	}
}

func (l *Ledger) Get(id string) (models.Offer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.offers[id]
	return o, ok
}

// Find returns the most recent offer of rideID made to driverID.
func (l *Ledger) Find(rideID, driverID string) (models.Offer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byRide[rideID]
	for i := len(ids) - 1; i >= 0; i-- {
		if o := l.offers[ids[i]]; o.DriverID == driverID {
			return o, true
		}
	}
	return models.Offer{}, false
}

// ForRide returns all offers of a ride in creation order.
func (l *Ledger) ForRide(rideID string) []models.Offer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Offer, 0, len(l.byRide[rideID]))
	for _, id := range l.byRide[rideID] {
		out = append(out, l.offers[id])
	}
	return out
}

func (l *Ledger) ActiveForRide(rideID string) []models.Offer {
	var out []models.Offer
	for _, o := range l.ForRide(rideID) {
		if o.Status.Active() {
			out = append(out, o)
		}
	}
	return out
}

// AcceptedForRide returns the accepted offer of a ride, if any.
func (l *Ledger) AcceptedForRide(rideID string) (models.Offer, bool) {
	for _, o := range l.ForRide(rideID) {
		if o.Status == models.OfferAccepted {
			return o, true
		}
	}
	return models.Offer{}, false
}

func (l *Ledger) ActiveForDriver(driverID string) (models.Offer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byDriver[driverID]
	if !ok {
		return models.Offer{}, false
	}
	return l.offers[id], true
}

// Busy reports whether the driver holds an active offer for any ride.
func (l *Ledger) Busy(driverID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byDriver[driverID]
	return ok
}

// Stale returns offers still in offered state created before cutoff, oldest
// first.
func (l *Ledger) Stale(cutoff time.Time) []models.Offer {
	l.mu.RLock()
	var out []models.Offer
	for _, o := range l.offers {
		if o.Status == models.OfferOffered && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Active returns every offer that still holds a driver.
func (l *Ledger) Active() []models.Offer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Offer, 0, len(l.byDriver))
	for _, id := range l.byDriver {
		out = append(out, l.offers[id])
	}
	return out
}

func (l *Ledger) insert(o models.Offer) {
	l.offers[o.ID] = o
	l.byRide[o.RideID] = append(l.byRide[o.RideID], o.ID)
	if o.Status.Active() {
		l.byDriver[o.DriverID] = o.ID
	}
}

// set must be called with mu held.
func (l *Ledger) set(o models.Offer, to models.OfferStatus, at time.Time) {
	o.Status = to
	if !to.Active() {
		t := at.UTC()
		o.ResolvedAt = &t
		if l.byDriver[o.DriverID] == o.ID {
			delete(l.byDriver, o.DriverID)
		}
	} else if to == models.OfferAccepted {
		t := at.UTC()
		o.ResolvedAt = &t
	}
	l.offers[o.ID] = o
}
