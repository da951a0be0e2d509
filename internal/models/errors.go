package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means another actor resolved the ride or offer first.
	// Callers treat it as "lost the race", not as a failure.
	ErrConflict        = errors.New("conflict")
	ErrInvalidOTP      = errors.New("invalid otp")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrInvalidArgument = errors.New("invalid argument")
)
