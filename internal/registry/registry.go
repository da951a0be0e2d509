// Package registry holds driver availability, location, liveness and
// eligibility. Every mutation is a single-key read-modify-write.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/keylock"
	"github.com/example/ride-dispatch/internal/models"
)

// DriverStore persists driver rows. Heartbeats are not persisted: liveness
// is meaningless across restarts.
type DriverStore interface {
	SaveDriver(ctx context.Context, d models.Driver) error
}

// Mirror receives a copy of every driver change, e.g. a Redis GEO set.
type Mirror interface {
	Upsert(ctx context.Context, d models.Driver) error
}

type RegisterDriver struct {
	ID             string       `json:"id"`
	Location       models.Coord `json:"location"`
	SafetyVerified bool         `json:"safety_verified"`
	VehicleClass   string       `json:"vehicle_class"`
	CallbackURL    string       `json:"callback_url"`
}

const (
	defaultRating = 5.0
	ratingAlpha   = 0.2
)

type Registry struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	locks   *keylock.Map

	store     DriverStore
	mirror    Mirror
	logger    *slog.Logger
	threshold time.Duration
	now       func() time.Time
}

type Option func(*Registry)

func WithMirror(m Mirror) Option { return func(r *Registry) { r.mirror = m } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// New builds a registry; threshold is the liveness threshold.
func New(store DriverStore, threshold time.Duration, opts ...Option) *Registry {
	r := &Registry{
		drivers:   make(map[string]models.Driver),
		locks:     keylock.New(),
		store:     store,
		logger:    slog.Default(),
		threshold: threshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Register(ctx context.Context, in RegisterDriver) (models.Driver, error) {
	if in.ID == "" {
		return models.Driver{}, fmt.Errorf("%w: driver id required", models.ErrInvalidArgument)
	}
	if err := in.Location.Validate(); err != nil {
		return models.Driver{}, err
	}
	unlock := r.locks.Lock(in.ID)
	defer unlock()

	now := r.now().UTC()
	d, ok := r.get(in.ID)
	if !ok {
		d = models.Driver{ID: in.ID, Rating: defaultRating}
	}
	d.Loc = in.Location
	d.Available = true
	d.LastHeartbeat = now
	d.SafetyVerified = in.SafetyVerified
	d.VehicleClass = in.VehicleClass
	d.CallbackURL = in.CallbackURL
	d.Updated = now
	if err := r.commit(ctx, d, true); err != nil {
		return models.Driver{}, err
	}
	return d, nil
}

func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	return r.mutate(ctx, id, false, func(d *models.Driver) error {
		d.LastHeartbeat = r.now().UTC()
		return nil
	})
}

func (r *Registry) SetAvailability(ctx context.Context, id string, available bool) error {
	return r.mutate(ctx, id, true, func(d *models.Driver) error {
		d.Available = available
		return nil
	})
}

func (r *Registry) UpdateLocation(ctx context.Context, id string, loc models.Coord) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return r.mutate(ctx, id, true, func(d *models.Driver) error {
		d.Loc = loc
		return nil
	})
}

// RecordRating folds score (1..5) into the driver's rolling rating.
func (r *Registry) RecordRating(ctx context.Context, id string, score float64) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("%w: rating %v outside 1..5", models.ErrInvalidArgument, score)
	}
	return r.mutate(ctx, id, true, func(d *models.Driver) error {
		if d.Ratings == 0 {
			d.Rating = score
		} else {
			d.Rating = (1-ratingAlpha)*d.Rating + ratingAlpha*score
		}
		d.Ratings++
		return nil
	})
}

// Restore loads drivers from a snapshot without writing them back.
func (r *Registry) Restore(drivers []models.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range drivers {
		r.drivers[d.ID] = d
	}
}

func (r *Registry) Get(id string) (models.Driver, bool) {
	return r.get(id)
}

// IsOnline is recomputed on every call and never stored.
func (r *Registry) IsOnline(id string) bool {
	d, ok := r.get(id)
	return ok && r.online(d, r.now())
}

// Online returns a snapshot of all online drivers ordered by ID.
func (r *Registry) Online() []models.Driver {
	now := r.now()
	r.mu.RLock()
	out := make([]models.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		if r.online(d, now) {
			out = append(out, d)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) online(d models.Driver, now time.Time) bool {
	return d.Available && now.UTC().Sub(d.LastHeartbeat) < r.threshold
}

func (r *Registry) get(id string) (models.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	return d, ok
}

func (r *Registry) mutate(ctx context.Context, id string, persist bool, fn func(*models.Driver) error) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	d, ok := r.get(id)
	if !ok {
		return fmt.Errorf("driver %s: %w", id, models.ErrNotFound)
	}
	if err := fn(&d); err != nil {
		return err
	}
	if persist {
		d.Updated = r.now().UTC()
	}
	return r.commit(ctx, d, persist)
}

// commit persists d (when asked), then publishes it in memory and to the mirror.
func (r *Registry) commit(ctx context.Context, d models.Driver, persist bool) error {
	if persist && r.store != nil {
		if err := r.store.SaveDriver(ctx, d); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.drivers[d.ID] = d
	r.mu.Unlock()
	if r.mirror != nil && persist {
		if err := r.mirror.Upsert(ctx, d); err != nil {
			r.logger.Warn("driver mirror update failed", "driver_id", d.ID, "error", err)
		}
	}
	return nil
}
