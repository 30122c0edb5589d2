package domain

import "time"

// QueueItemStatus enumerates the lifecycle of a scheduled work unit.
type QueueItemStatus string

const (
	QueuePending    QueueItemStatus = "pending"
	QueueProcessing QueueItemStatus = "processing"
	QueueCompleted  QueueItemStatus = "completed"
	QueueFailed     QueueItemStatus = "failed"
	QueueCancelled  QueueItemStatus = "cancelled"
)

// QueueItem is a scheduled work unit pointing at an action-to-be.
// Higher priority dispatches first; ties break by scheduled_at ascending.
type QueueItem struct {
	ID           string `json:"id" db:"id"`
	EnrollmentID string `json:"enrollment_id" db:"enrollment_id"`
	StepID       string `json:"step_id" db:"step_id"`

	ScheduledAt time.Time       `json:"scheduled_at" db:"scheduled_at"`
	Priority    int             `json:"priority" db:"priority"`
	Status      QueueItemStatus `json:"status" db:"status"`

	RetryCount int `json:"retry_count" db:"retry_count"`
	MaxRetries int `json:"max_retries" db:"max_retries"`

	PickedUpAt *time.Time `json:"picked_up_at" db:"picked_up_at"`
	WorkerID   string     `json:"worker_id" db:"worker_id"`
	LastError  string     `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
