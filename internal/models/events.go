package models

import "time"

type EventKind string

const (
	EventOfferCreated   EventKind = "offer_created"
	EventOfferAccepted  EventKind = "offer_accepted"
	EventOfferWithdrawn EventKind = "offer_withdrawn"
	EventRideStarted    EventKind = "ride_started"
	EventRideCompleted  EventKind = "ride_completed"
	EventRideCancelled  EventKind = "ride_cancelled"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// DriverView is what a driver sees, by push or by polling its pending offer.
type DriverView struct {
	HasOffer   bool        `json:"has_offer"`
	OfferID    string      `json:"offer_id,omitempty"`
	RideID     string      `json:"ride_id,omitempty"`
	RiderID    string      `json:"rider_id,omitempty"`
	Status     OfferStatus `json:"status,omitempty"`
	Pickup     *Coord      `json:"pickup,omitempty"`
	Dropoff    *Coord      `json:"dropoff,omitempty"`
	DistanceM  float64     `json:"distance_m,omitempty"`
	ETA        float64     `json:"eta_seconds,omitempty"`
	RideStatus RideStatus  `json:"ride_status,omitempty"`
	OfferedAt  *time.Time  `json:"offered_at,omitempty"`
}

// RiderView is what a rider sees, by push or by polling ride status.
type RiderView struct {
	HasRide        bool       `json:"has_ride"`
	RideID         string     `json:"ride_id,omitempty"`
	Status         RideStatus `json:"status,omitempty"`
	DriverID       string     `json:"driver_id,omitempty"`
	DriverLocation *Coord     `json:"driver_location,omitempty"`
	OTP            string     `json:"otp,omitempty"`
	Pickup         *Coord     `json:"pickup,omitempty"`
	Dropoff        *Coord     `json:"dropoff,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Event is a notification for a single recipient. Exactly one of Driver or
// Rider is set, matching Role.
type Event struct {
	Kind        EventKind   `json:"kind"`
	Role        Role        `json:"role"`
	RecipientID string      `json:"recipient_id"`
	RideID      string      `json:"ride_id"`
	Driver      *DriverView `json:"driver,omitempty"`
	Rider       *RiderView  `json:"rider,omitempty"`
	At          time.Time   `json:"at"`
	// CallbackURL is the recipient's registered push address, if any.
	CallbackURL string `json:"-"`
}
