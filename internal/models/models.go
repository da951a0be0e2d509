package models

import (
	"fmt"
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects coordinates outside the WGS84 range and NaNs.
func (c Coord) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: coordinate (%f,%f) out of range", ErrInvalidArgument, c.Lat, c.Lon)
	}
	return nil
}

// RideClass decides scheduling priority and driver eligibility.
type RideClass string

const (
	ClassStandard RideClass = "standard"
	ClassPriority RideClass = "priority"
	ClassSchool   RideClass = "school"
)

func (c RideClass) Valid() bool {
	switch c {
	case ClassStandard, ClassPriority, ClassSchool:
		return true
	}
	return false
}

// Rank orders classes for the matcher; lower runs first.
func (c RideClass) Rank() int {
	switch c {
	case ClassSchool, ClassPriority:
		return 0
	default:
		return 1
	}
}

// RideRequest is what a rider submits.
type RideRequest struct {
	RiderID      string    `json:"rider_id"`
	Pickup       Coord     `json:"pickup"`
	Dropoff      Coord     `json:"dropoff"`
	Class        RideClass `json:"class"`
	VehicleClass string    `json:"vehicle_class,omitempty"`
	CallbackURL  string    `json:"callback_url,omitempty"`
}

type Ride struct {
	ID           string     `json:"id"`
	RiderID      string     `json:"rider_id"`
	Pickup       Coord      `json:"pickup"`
	Dropoff      Coord      `json:"dropoff"`
	Class        RideClass  `json:"class"`
	VehicleClass string     `json:"vehicle_class,omitempty"`
	Status       RideStatus `json:"status"`
	DriverID     string     `json:"driver_id,omitempty"`
	// Declined holds drivers that declined or let an offer for this ride expire.
	Declined    []string  `json:"declined,omitempty"`
	CallbackURL string    `json:"-"`
	PaymentID   string    `json:"-"`
	Rated       bool      `json:"rated,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasDeclined reports whether driverID is in the ride's declined set.
func (r *Ride) HasDeclined(driverID string) bool {
	for _, id := range r.Declined {
		if id == driverID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with r.
func (r Ride) Clone() Ride {
	if r.Declined != nil {
		r.Declined = append([]string(nil), r.Declined...)
	}
	return r
}

type Driver struct {
	ID             string    `json:"id"`
	Loc            Coord     `json:"loc"`
	Available      bool      `json:"available"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	SafetyVerified bool      `json:"safety_verified"`
	VehicleClass   string    `json:"vehicle_class,omitempty"`
	Rating         float64   `json:"rating"` // 0..5
	Ratings        int       `json:"ratings"`
	CallbackURL    string    `json:"callback_url,omitempty"`
	Updated        time.Time `json:"updated"`
}

// EligibleFor reports whether the driver may serve ride r. Liveness is not
// considered here.
func (d *Driver) EligibleFor(r *Ride) bool {
	if r.Class == ClassSchool && !d.SafetyVerified {
		return false
	}
	if r.VehicleClass != "" && d.VehicleClass != r.VehicleClass {
		return false
	}
	return true
}

type Offer struct {
	ID         string      `json:"id"`
	RideID     string      `json:"ride_id"`
	DriverID   string      `json:"driver_id"`
	Status     OfferStatus `json:"status"`
	OTP        string      `json:"-"`
	DistanceM  float64     `json:"distance_m"`
	ETA        float64     `json:"eta_seconds"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}
