// Package engine is the ride dispatch core: the ride lifecycle state machine,
// the acceptance arbiter, offer expiry and crash recovery. It owns every ride
// in memory; all mutations of one ride and its offers run under that ride's
// lock, and the registry and ledger provide their own atomicity.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/keylock"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

// Notifier delivers events to drivers and riders. Publish must not block on
// delivery.
type Notifier interface {
	Publish(ctx context.Context, ev models.Event)
}

// PaymentHook places and settles a pre-authorisation around a ride.
type PaymentHook interface {
	Hold(ctx context.Context, ride models.Ride) (string, error)
	Capture(ctx context.Context, paymentID string) error
	Cancel(ctx context.Context, paymentID string) error
}

type Config struct {
	// OfferTimeout is how long an offer may stay unanswered.
	OfferTimeout time.Duration
	OTPDigits    int
}

type Engine struct {
	cfg      Config
	registry *registry.Registry
	ledger   *ledger.Ledger
	store    storage.Store
	notifier Notifier
	payments PaymentHook
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	locks *keylock.Map

	mu            sync.RWMutex
	rides         map[string]models.Ride
	activeByRider map[string]string
	lastByRider   map[string]string

	wake chan struct{}
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithPayments(p PaymentHook) Option { return func(e *Engine) { e.payments = p } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

func New(cfg Config, reg *registry.Registry, led *ledger.Ledger, store storage.Store, opts ...Option) *Engine {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 60 * time.Second
	}
	if cfg.OTPDigits <= 0 {
		cfg.OTPDigits = 4
	}
	e := &Engine{
		cfg:           cfg,
		registry:      reg,
		ledger:        led,
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
		locks:         keylock.New(),
		rides:         make(map[string]models.Ride),
		activeByRider: make(map[string]string),
		lastByRider:   make(map[string]string),
		wake:          make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Wake fires when there may be new work for the matcher: a ride was
// submitted or returned to pending, or a driver came online.
func (e *Engine) Wake() <-chan struct{} { return e.wake }

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

func (e *Engine) ride(id string) (models.Ride, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rides[id]
	if !ok {
		return models.Ride{}, false
	}
	return r.Clone(), true
}

// putRide publishes r in memory. Callers hold the ride lock.
func (e *Engine) putRide(r models.Ride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rides[r.ID] = r.Clone()
	e.lastByRider[r.RiderID] = r.ID
	if r.Status.Terminal() {
		if e.activeByRider[r.RiderID] == r.ID {
			delete(e.activeByRider, r.RiderID)
		}
	} else {
		e.activeByRider[r.RiderID] = r.ID
	}
}

// setStatus applies a ride transition allowed by the transition table.
func setStatus(r *models.Ride, to models.RideStatus, at time.Time) error {
	if !r.Status.CanTransition(to) {
		return &TransitionError{RideID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// persist writes through to the store. Memory is authoritative, so failures
// are logged and counted rather than unwinding a committed transition;
// recovery reconciles whatever the store missed.
func (e *Engine) persist(ctx context.Context, ride *models.Ride, offers ...models.Offer) {
	if e.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if ride != nil {
		if err := e.store.SaveRide(ctx, *ride); err != nil {
			e.storeFailed("save_ride", ride.ID, err)
		}
	}
	for _, o := range offers {
		if err := e.store.SaveOffer(ctx, o); err != nil {
			e.storeFailed("save_offer", o.RideID, err)
		}
	}
}

func (e *Engine) dropOffers(ctx context.Context, rideID string) {
	if e.store == nil {
		return
	}
	if err := e.store.DeleteOffers(context.WithoutCancel(ctx), rideID); err != nil {
		e.storeFailed("delete_offers", rideID, err)
	}
}

func (e *Engine) storeFailed(op, rideID string, err error) {
	observability.StoreErrors.Inc()
	e.logger.Error("store write failed", "op", op, "ride_id", rideID, "error", err)
}

// releaseDriver makes a driver available again after an accepted offer ends.
func (e *Engine) releaseDriver(ctx context.Context, driverID string) {
	if driverID == "" {
		return
	}
	if err := e.registry.SetAvailability(context.WithoutCancel(ctx), driverID, true); err != nil {
		e.logger.Warn("release driver failed", "driver_id", driverID, "error", err)
		return
	}
	e.signal()
}
