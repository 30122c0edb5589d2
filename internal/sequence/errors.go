package sequence

import "errors"

// Sentinel errors for the sequence service layer.
var (
	ErrNotFound            = errors.New("sequence not found")
	ErrInvalidTransition   = errors.New("invalid sequence status transition")
	ErrNotActive           = errors.New("sequence is not active")
	ErrInvalidStep         = errors.New("invalid step")
	ErrBadStepOrder        = errors.New("step_order must extend the sequence contiguously")
	ErrForwardConditionRef = errors.New("condition must reference an earlier step")
	ErrStepNotFound        = errors.New("step not found")
)
