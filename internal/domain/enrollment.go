package domain

import "time"

// EnrollmentStatus enumerates the lifecycle states of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentReplied   EnrollmentStatus = "replied"
	EnrollmentBounced   EnrollmentStatus = "bounced"
	EnrollmentStopped   EnrollmentStatus = "stopped"
)

// IsTerminal reports whether the status is final. Entering a terminal state
// cancels all pending queue items for the enrollment.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentReplied, EnrollmentBounced, EnrollmentStopped:
		return true
	}
	return false
}

// ABVariant is the stable A/B arm assigned at enroll time.
type ABVariant string

const (
	VariantA ABVariant = "A"
	VariantB ABVariant = "B"
)

// Contact carries the identity fields for the person being enrolled.
type Contact struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LeadID      string `json:"lead_id,omitempty"`
}

// Enrollment is a live instantiation of a sequence for one contact.
type Enrollment struct {
	ID          string `json:"id" db:"id"`
	SequenceID  string `json:"sequence_id" db:"sequence_id"`
	PrincipalID string `json:"principal_id" db:"principal_id"`

	Contact   Contact           `json:"contact"`
	Variables map[string]string `json:"variables"`

	Status EnrollmentStatus `json:"status" db:"status"`

	// CurrentStep is 0 before the first step is due; otherwise the step_order
	// of the most recently dispatched step.
	CurrentStep int        `json:"current_step" db:"current_step"`
	NextStepAt  *time.Time `json:"next_step_at" db:"next_step_at"`
	ABVariant   ABVariant  `json:"ab_variant" db:"ab_variant"`

	EnrolledAt time.Time  `json:"enrolled_at" db:"enrolled_at"`
	TerminalAt *time.Time `json:"terminal_at" db:"terminal_at"`
	StopReason string     `json:"stop_reason,omitempty" db:"stop_reason"`
}
