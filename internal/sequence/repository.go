package sequence

import (
	"context"
	"time"

	"github.com/leadflowhq/outreach/internal/domain"
)

// Repository defines the data access contract for sequences and steps.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single sequence. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, principalID, id string) (*domain.Sequence, error)

	// List returns the principal's sequences, newest first.
	List(ctx context.Context, principalID string, limit, offset int) ([]domain.Sequence, error)

	// Create inserts a new sequence.
	Create(ctx context.Context, s *domain.Sequence) error

	// UpdateStatus transitions the status with a predicate on the current
	// status so concurrent transitions cannot race. Returns ErrNotFound when
	// no row matched.
	UpdateStatus(ctx context.Context, principalID, id string, from []domain.SequenceStatus, to domain.SequenceStatus) error

	// Steps returns all steps of a sequence in step_order.
	Steps(ctx context.Context, sequenceID string) ([]domain.Step, error)

	// CreateStep inserts a new step.
	CreateStep(ctx context.Context, st *domain.Step) error

	// DailyStats returns the rollup rows for the last `days` days.
	DailyStats(ctx context.Context, principalID, sequenceID string, days int) ([]DailyStat, error)
}

// DailyStat is one sequence_daily_stats row.
type DailyStat struct {
	Day     time.Time `json:"day"`
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`
	Replied int       `json:"replied"`
	Bounced int       `json:"bounced"`
}
