package models

type RideStatus string

const (
	RidePending      RideStatus = "pending"
	RideBroadcasting RideStatus = "broadcasting"
	RideAccepted     RideStatus = "accepted"
	RideInProgress   RideStatus = "in_progress"
	RideCompleted    RideStatus = "completed"
	RideCancelled    RideStatus = "cancelled"
)

// RideTransitions is the ride state flow as code. Anything not listed is rejected.
var RideTransitions = map[RideStatus][]RideStatus{
	RidePending:      {RideBroadcasting, RideCancelled},
	RideBroadcasting: {RidePending, RideAccepted, RideCancelled},
	RideAccepted:     {RideInProgress, RideCompleted, RideCancelled, RidePending},
	RideInProgress:   {RideCompleted},
}

func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

func (s RideStatus) CanTransition(to RideStatus) bool {
	return contains(RideTransitions[s], to)
}

type OfferStatus string

const (
	OfferOffered  OfferStatus = "offered"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
	OfferFailed   OfferStatus = "failed"
)

var OfferTransitions = map[OfferStatus][]OfferStatus{
	OfferOffered:  {OfferAccepted, OfferDeclined, OfferExpired, OfferFailed},
	OfferAccepted: {OfferFailed},
}

// Active reports whether the offer still holds its driver.
func (s OfferStatus) Active() bool {
	return s == OfferOffered || s == OfferAccepted
}

func (s OfferStatus) CanTransition(to OfferStatus) bool {
	return contains(OfferTransitions[s], to)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
