package enrollment

import (
	"context"
	"time"

	"github.com/leadflowhq/outreach/internal/domain"
)

// Repository defines the data access contract for enrollments.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new enrollment. Returns ErrAlreadyEnrolled when an
	// active or paused enrollment already exists for the same
	// (sequence_id, contact_email).
	Create(ctx context.Context, e *domain.Enrollment) error

	// Get returns an enrollment scoped to its owning principal.
	Get(ctx context.Context, principalID, id string) (*domain.Enrollment, error)

	// GetByID returns an enrollment without principal scoping. Used by the
	// scheduler, which acts on queue items rather than API requests.
	GetByID(ctx context.Context, id string) (*domain.Enrollment, error)

	// List returns a sequence's enrollments, newest first.
	List(ctx context.Context, principalID, sequenceID string, limit, offset int) ([]domain.Enrollment, error)

	// HasActiveOrPaused reports whether the contact already has a live
	// enrollment in the sequence.
	HasActiveOrPaused(ctx context.Context, sequenceID, email string) (bool, error)

	// UpdateStatus transitions the status with a predicate on the current
	// status. Terminal targets also set terminal_at and, when non-empty,
	// stop_reason. Returns ErrInvalidTransition when the row exists but its
	// status is not in `from`, ErrNotFound when there is no row.
	UpdateStatus(ctx context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, reason string) error

	// SetProgress records the step cursor and the next due time.
	// nextStepAt may be nil when the enrollment has run out of steps.
	SetProgress(ctx context.Context, id string, currentStep int, nextStepAt *time.Time) error

	// NonTerminalIDsForSequence returns the ids of all active or paused
	// enrollments of a sequence.
	NonTerminalIDsForSequence(ctx context.Context, sequenceID string) ([]string, error)
}

// ActionStore is the slice of the action repository the state machine needs:
// reading dispatch outcomes for condition evaluation and recording skipped
// steps.
type ActionStore interface {
	// GetForStep returns the non-skipped action for (enrollment, step), or
	// nil when none exists.
	GetForStep(ctx context.Context, enrollmentID, stepID string) (*domain.Action, error)

	// MarkSkipped records that a step was passed over without dispatching.
	MarkSkipped(ctx context.Context, enrollmentID, stepID string, stepType domain.StepType) error
}

// Queuer is the slice of the queue the state machine drives.
type Queuer interface {
	Enqueue(ctx context.Context, enrollmentID, stepID string, scheduledAt time.Time, priority int) (string, error)
	CancelForEnrollment(ctx context.Context, enrollmentID string) (int64, error)
	CancelForSequence(ctx context.Context, sequenceID string) (int64, error)
}
