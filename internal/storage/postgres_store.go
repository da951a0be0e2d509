package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes the SQL file at path as a single batch.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveRide(ctx context.Context, r models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO rides(id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, class, vehicle_class,
                  status, driver_id, declined, callback_url, payment_id, rated, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status, driver_id=EXCLUDED.driver_id, declined=EXCLUDED.declined,
  payment_id=EXCLUDED.payment_id, rated=EXCLUDED.rated, updated_at=EXCLUDED.updated_at`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon, string(r.Class), r.VehicleClass,
		string(r.Status), r.DriverID, pq.Array(r.Declined), r.CallbackURL, r.PaymentID, r.Rated, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO drivers(id, lat, lon, available, last_heartbeat, safety_verified, vehicle_class, rating, ratings, callback_url, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  lat=EXCLUDED.lat, lon=EXCLUDED.lon, available=EXCLUDED.available, last_heartbeat=EXCLUDED.last_heartbeat,
  safety_verified=EXCLUDED.safety_verified, vehicle_class=EXCLUDED.vehicle_class, rating=EXCLUDED.rating,
  ratings=EXCLUDED.ratings, callback_url=EXCLUDED.callback_url, updated_at=EXCLUDED.updated_at`,
		d.ID, d.Loc.Lat, d.Loc.Lon, d.Available, d.LastHeartbeat.UTC(), d.SafetyVerified, d.VehicleClass,
		d.Rating, d.Ratings, d.CallbackURL, d.Updated.UTC())
	if err != nil {
		return fmt.Errorf("save driver %s: %w", d.ID, err)
	}
	return nil
}

func (p *PostgresStore) SaveOffer(ctx context.Context, o models.Offer) error {
	var resolved sql.NullTime
	if o.ResolvedAt != nil {
		resolved = sql.NullTime{Time: o.ResolvedAt.UTC(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO offers(id, ride_id, driver_id, status, otp, distance_m, eta_seconds, created_at, resolved_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, otp=EXCLUDED.otp, resolved_at=EXCLUDED.resolved_at`,
		o.ID, o.RideID, o.DriverID, string(o.Status), o.OTP, o.DistanceM, o.ETA, o.CreatedAt.UTC(), resolved)
	if err != nil {
		return fmt.Errorf("save offer %s: %w", o.ID, err)
	}
	return nil
}

func (p *PostgresStore) DeleteOffers(ctx context.Context, rideID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM offers WHERE ride_id=$1`, rideID); err != nil {
		return fmt.Errorf("delete offers for ride %s: %w", rideID, err)
	}
	return nil
}

func (p *PostgresStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.Rides, err = p.loadRides(ctx); err != nil {
		return s, err
	}
	if s.Drivers, err = p.loadDrivers(ctx); err != nil {
		return s, err
	}
	if s.Offers, err = p.loadOffers(ctx); err != nil {
		return s, err
	}
	return s, nil
}

func (p *PostgresStore) loadRides(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, class, vehicle_class,
       status, driver_id, declined, callback_url, payment_id, rated, created_at, updated_at
FROM rides WHERE status NOT IN ('completed', 'cancelled')`)
	if err != nil {
		return nil, fmt.Errorf("load rides: %w", err)
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		var r models.Ride
		var class, status string
		if err := rows.Scan(&r.ID, &r.RiderID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon,
			&class, &r.VehicleClass, &status, &r.DriverID, pq.Array(&r.Declined), &r.CallbackURL, &r.PaymentID, &r.Rated,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		r.Class, r.Status = models.RideClass(class), models.RideStatus(status)
		r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) loadDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, lat, lon, available, last_heartbeat, safety_verified, vehicle_class, rating, ratings, callback_url, updated_at
FROM drivers`)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(&d.ID, &d.Loc.Lat, &d.Loc.Lon, &d.Available, &d.LastHeartbeat, &d.SafetyVerified,
			&d.VehicleClass, &d.Rating, &d.Ratings, &d.CallbackURL, &d.Updated); err != nil {
			return nil, fmt.Errorf("scan driver: %w", err)
		}
		d.LastHeartbeat, d.Updated = d.LastHeartbeat.UTC(), d.Updated.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) loadOffers(ctx context.Context) ([]models.Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, ride_id, driver_id, status, otp, distance_m, eta_seconds, created_at, resolved_at FROM offers`)
	if err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	defer rows.Close()
	var out []models.Offer
	for rows.Next() {
		var o models.Offer
		var status string
		var resolved sql.NullTime
		if err := rows.Scan(&o.ID, &o.RideID, &o.DriverID, &status, &o.OTP, &o.DistanceM, &o.ETA, &o.CreatedAt, &resolved); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		o.Status = models.OfferStatus(status)
		o.CreatedAt = o.CreatedAt.UTC()
		if resolved.Valid {
			t := resolved.Time.UTC()
			o.ResolvedAt = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*MemoryStore)(nil)
