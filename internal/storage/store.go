package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Store is the write-through persistence behind the engine. The engine keeps
// the authoritative copy in memory and serialises writes per ride and per
// driver, so implementations only need single-row upsert atomicity.
type Store interface {
	SaveRide(ctx context.Context, r models.Ride) error
	SaveDriver(ctx context.Context, d models.Driver) error
	SaveOffer(ctx context.Context, o models.Offer) error
	DeleteOffers(ctx context.Context, rideID string) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot is the full persisted state, read once at startup for recovery.
type Snapshot struct {
	Rides   []models.Ride
	Drivers []models.Driver
	Offers  []models.Offer
}

type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	drivers map[string]models.Driver
	offers  map[string]models.Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		drivers: make(map[string]models.Driver),
		offers:  make(map[string]models.Offer),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) SaveOffer(_ context.Context, o models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = o
	return nil
}

func (m *MemoryStore) DeleteOffers(_ context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, o := range m.offers {
		if o.RideID == rideID {
			delete(m.offers, id)
		}
	}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Snapshot
	for _, r := range m.rides {
		s.Rides = append(s.Rides, r.Clone())
	}
	for _, d := range m.drivers {
		s.Drivers = append(s.Drivers, d)
	}
	for _, o := range m.offers {
		s.Offers = append(s.Offers, o)
	}
	return s, nil
}

// Get returns a stored ride; used by tests and tooling.
func (m *MemoryStore) Get(id string) (models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
