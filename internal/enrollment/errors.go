package enrollment

import "errors"

// Sentinel errors for the enrollment service layer.
var (
	ErrNotFound          = errors.New("enrollment not found")
	ErrAlreadyEnrolled   = errors.New("contact already has an active or paused enrollment in this sequence")
	ErrSequenceNotActive = errors.New("sequence is not active")
	ErrNoActiveSteps     = errors.New("sequence has no active steps")
	ErrInvalidTransition = errors.New("invalid enrollment status transition")
	ErrMissingEmail      = errors.New("contact email is required")
)
