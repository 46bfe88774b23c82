package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrCallPlacement marks a reminder whose outbound call could not be placed.
	// The attempt has already been moved through the SMS fallback when it is returned.
	ErrCallPlacement = errors.New("call placement failed")
)
