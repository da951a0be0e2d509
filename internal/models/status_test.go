package models

import (
	"errors"
	"testing"
)

func TestRideTransitions(t *testing.T) {
	cases := []struct {
		from, to RideStatus
		ok       bool
	}{
		{RidePending, RideBroadcasting, true},
		{RidePending, RideAccepted, false},
		{RideBroadcasting, RideAccepted, true},
		{RideBroadcasting, RidePending, true},
		{RideAccepted, RideInProgress, true},
		{RideAccepted, RideCompleted, true},
		{RideInProgress, RideCompleted, true},
		{RideInProgress, RideCancelled, false},
		{RideCompleted, RidePending, false},
		{RideCancelled, RideBroadcasting, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
	if !RideCompleted.Terminal() || !RideCancelled.Terminal() || RideAccepted.Terminal() {
		t.Fatalf("terminal states wrong")
	}
}

func TestOfferTransitions(t *testing.T) {
	if !OfferOffered.CanTransition(OfferExpired) {
		t.Fatalf("offered -> expired must be allowed")
	}
	for _, s := range []OfferStatus{OfferDeclined, OfferExpired, OfferFailed} {
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
		if s.CanTransition(OfferAccepted) {
			t.Errorf("%s -> accepted must be rejected", s)
		}
	}
	if OfferAccepted.CanTransition(OfferDeclined) {
		t.Fatalf("accepted -> declined must be rejected")
	}
}

func TestCoordValidate(t *testing.T) {
	if err := (Coord{Lat: 12.97, Lon: 77.59}).Validate(); err != nil {
		t.Fatalf("valid coord rejected: %v", err)
	}
	if err := (Coord{Lat: 91}).Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEligibleFor(t *testing.T) {
	school := &Ride{Class: ClassSchool}
	if (&Driver{}).EligibleFor(school) {
		t.Fatalf("unverified driver must not take school rides")
	}
	if !(&Driver{SafetyVerified: true}).EligibleFor(school) {
		t.Fatalf("verified driver should take school rides")
	}
	suv := &Ride{Class: ClassStandard, VehicleClass: "suv"}
	if (&Driver{VehicleClass: "sedan"}).EligibleFor(suv) {
		t.Fatalf("vehicle class mismatch accepted")
	}
}
