package engine

import (
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

// TransitionError reports a ride status change the transition table rejects.
type TransitionError struct {
	RideID string
	From   models.RideStatus
	To     models.RideStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ride %s: %s -> %s not allowed", e.RideID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return models.ErrInvalidState }

func rideNotFound(id string) error {
	return fmt.Errorf("ride %s: %w", id, models.ErrNotFound)
}

// DriverBusyError is returned when a driver tries to go available, or to
// re-register, while assigned to a ride.
type DriverBusyError struct {
	DriverID string
	RideID   string
}

func (e *DriverBusyError) Error() string {
	return fmt.Sprintf("driver %s is assigned to ride %s", e.DriverID, e.RideID)
}

func (e *DriverBusyError) Unwrap() error { return models.ErrInvalidState }
