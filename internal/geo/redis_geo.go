package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror publishes driver positions and availability to Redis GEO so
// map views and other services can read them without touching the engine.
// The engine never reads it back; the registry stays the source of truth.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Upsert(ctx context.Context, d models.Driver) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.ID, err)
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"rating":          fmt.Sprintf("%f", d.Rating),
		"available":       strconv.FormatBool(d.Available),
		"safety_verified": strconv.FormatBool(d.SafetyVerified),
		"vehicle_class":   d.VehicleClass,
		"updated":         d.Updated.UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisMirror) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisMirror) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
