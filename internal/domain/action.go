package domain

import (
	"encoding/json"
	"time"
)

// ActionStatus enumerates the lifecycle of a single dispatch record.
type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSent    ActionStatus = "sent"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// Action is the record of one dispatch attempt for one (enrollment, step)
// pair. At most one non-skipped action exists per pair.
type Action struct {
	ID           string   `json:"id" db:"id"`
	EnrollmentID string   `json:"enrollment_id" db:"enrollment_id"`
	StepID       string   `json:"step_id" db:"step_id"`
	Type         StepType `json:"action_type" db:"action_type"`

	Status      ActionStatus `json:"status" db:"status"`
	ScheduledAt time.Time    `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time   `json:"sent_at" db:"sent_at"`
	FailedAt    *time.Time   `json:"failed_at" db:"failed_at"`

	SentSubject      string          `json:"sent_subject" db:"sent_subject"`
	SentContent      string          `json:"sent_content" db:"sent_content"`
	PlatformResponse json.RawMessage `json:"platform_response,omitempty" db:"platform_response"`
	TrackingID       string          `json:"tracking_id" db:"tracking_id"`
	ErrorMessage     string          `json:"error_message,omitempty" db:"error_message"`

	// Outcome flags, set asynchronously by the tracking and webhook adapters.
	OpenedAt  *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at" db:"clicked_at"`
	RepliedAt *time.Time `json:"replied_at" db:"replied_at"`
	BouncedAt *time.Time `json:"bounced_at" db:"bounced_at"`
}
