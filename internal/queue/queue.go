// Package queue implements the durable, priority-ordered action queue atop
// PostgreSQL. All mutating operations are expressed as conditional updates so
// that concurrent workers never observe the same item twice; claim uses
// FOR UPDATE SKIP LOCKED as the sole serialization point.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
)

const (
	// DefaultMaxRetries is how many times an item is retried before it is
	// terminally failed.
	DefaultMaxRetries = 3

	// DefaultLeaseTimeout is how long an item may sit in 'processing'
	// before any worker may reclaim it.
	DefaultLeaseTimeout = 30 * time.Minute

	// Backoff clamp bounds.
	backoffMin = 5 * time.Minute
	backoffMax = 6 * time.Hour
)

// Queue provides scheduled-action queue operations against the
// sequence_action_queue table.
type Queue struct {
	db           *sql.DB
	maxRetries   int
	leaseTimeout time.Duration
}

// New creates a queue with default retry and lease settings.
func New(db *sql.DB) *Queue {
	return &Queue{db: db, maxRetries: DefaultMaxRetries, leaseTimeout: DefaultLeaseTimeout}
}

// NewWithConfig creates a queue with custom retry and lease settings.
func NewWithConfig(db *sql.DB, maxRetries int, leaseTimeout time.Duration) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &Queue{db: db, maxRetries: maxRetries, leaseTimeout: leaseTimeout}
}

// LeaseTimeout returns the configured lease timeout.
func (q *Queue) LeaseTimeout() time.Duration { return q.leaseTimeout }

// Backoff returns the retry delay for the given retry count:
// 5 minutes per retry, clamped to [5m, 6h].
func Backoff(retryCount int) time.Duration {
	d := time.Duration(retryCount) * 5 * time.Minute
	if d < backoffMin {
		d = backoffMin
	}
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// Enqueue inserts a pending item for (enrollment, step) scheduled at the
// given instant and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, enrollmentID, stepID string, scheduledAt time.Time, priority int) (string, error) {
	id := uuid.New().String()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sequence_action_queue
			(id, enrollment_id, step_id, scheduled_at, priority, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, NOW())
	`, id, enrollmentID, stepID, scheduledAt.UTC(), priority, q.maxRetries)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	logger.Debug("queue item enqueued",
		"item_id", id, "enrollment_id", enrollmentID, "step_id", stepID,
		"scheduled_at", scheduledAt.UTC().Format(time.RFC3339))
	return id, nil
}

// Claim atomically moves up to limit due pending items to 'processing' for
// this worker, ordered by (priority DESC, scheduled_at ASC, id ASC).
// Concurrent callers never receive the same item.
func (q *Queue) Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE sequence_action_queue
			SET status = 'processing',
			    worker_id = $1,
			    picked_up_at = NOW()
			WHERE id IN (
				SELECT id FROM sequence_action_queue
				WHERE status = 'pending'
				  AND scheduled_at <= NOW()
				ORDER BY priority DESC, scheduled_at ASC, id ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, enrollment_id, step_id, scheduled_at, priority,
			          retry_count, max_retries, picked_up_at, created_at
		)
		SELECT id, enrollment_id, step_id, scheduled_at, priority,
		       retry_count, max_retries, picked_up_at, created_at
		FROM claimed
		ORDER BY priority DESC, scheduled_at ASC, id ASC
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item := domain.QueueItem{Status: domain.QueueProcessing, WorkerID: workerID}
		var pickedUp sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.EnrollmentID, &item.StepID, &item.ScheduledAt, &item.Priority,
			&item.RetryCount, &item.MaxRetries, &pickedUp, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		if pickedUp.Valid {
			t := pickedUp.Time
			item.PickedUpAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows: %w", err)
	}
	if len(items) > 0 {
		logger.Debug("queue items claimed", "worker_id", workerID, "count", len(items))
	}
	return items, rows.Err()
}

// Complete marks a processing item as completed. The worker predicate keeps a
// reclaimed item's original owner from completing work it no longer holds.
func (q *Queue) Complete(ctx context.Context, itemID, workerID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'processing' AND worker_id = $2
	`, itemID, workerID)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete: item %s not processing for worker %s", itemID, workerID)
	}
	logger.Debug("queue item completed", "item_id", itemID, "worker_id", workerID)
	return nil
}

// Fail records a dispatch failure. Items under the retry limit return to
// 'pending' with a backoff delay; items at the limit are terminally failed.
// Returns true when the item will be retried.
func (q *Queue) Fail(ctx context.Context, itemID, workerID, errMsg string) (bool, error) {
	// Requeue path: conditional on the retry budget still having room.
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    scheduled_at = NOW() + (LEAST(GREATEST(5 * (retry_count + 1), 5), 360) * INTERVAL '1 minute'),
		    worker_id = NULL,
		    picked_up_at = NULL,
		    last_error = $3
		WHERE id = $1 AND status = 'processing' AND worker_id = $2
		  AND retry_count + 1 < max_retries
	`, itemID, workerID, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail requeue: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Warn("queue item requeued after failure", "item_id", itemID, "error", errMsg)
		return true, nil
	}

	// Retry budget exhausted: terminal failure.
	_, err = q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'failed',
		    retry_count = retry_count + 1,
		    worker_id = NULL,
		    picked_up_at = NULL,
		    last_error = $3
		WHERE id = $1 AND status = 'processing' AND worker_id = $2
	`, itemID, workerID, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail terminal: %w", err)
	}
	logger.Error("queue item terminally failed", "item_id", itemID, "error", errMsg)
	return false, nil
}

// Reschedule moves a processing item back to 'pending' at a new instant
// without consuming a retry. Used for rate-limit deferrals, which are not
// errors.
func (q *Queue) Reschedule(ctx context.Context, itemID, workerID string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'pending',
		    scheduled_at = $3,
		    worker_id = NULL,
		    picked_up_at = NULL
		WHERE id = $1 AND status = 'processing' AND worker_id = $2
	`, itemID, workerID, at.UTC())
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reschedule: item %s not processing for worker %s", itemID, workerID)
	}
	logger.Info("queue item rescheduled", "item_id", itemID, "at", at.UTC().Format(time.RFC3339))
	return nil
}

// CancelForEnrollment cancels all of an enrollment's pending items and
// returns how many were cancelled.
func (q *Queue) CancelForEnrollment(ctx context.Context, enrollmentID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'cancelled'
		WHERE enrollment_id = $1 AND status = 'pending'
	`, enrollmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel for enrollment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("queue items cancelled", "enrollment_id", enrollmentID, "count", n)
	}
	return n, nil
}

// CancelForSequence cancels pending items across all of a sequence's
// enrollments. Used when a sequence is archived.
func (q *Queue) CancelForSequence(ctx context.Context, sequenceID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'cancelled'
		WHERE status = 'pending'
		  AND enrollment_id IN (
			SELECT id FROM sequence_enrollments WHERE sequence_id = $1
		  )
	`, sequenceID)
	if err != nil {
		return 0, fmt.Errorf("cancel for sequence: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReclaimStale resets items stuck in 'processing' past the lease timeout
// back to 'pending' so another worker can pick them up. The executor's
// idempotence guard prevents duplicate dispatch for already-sent actions.
func (q *Queue) ReclaimStale(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sequence_action_queue
		SET status = 'pending',
		    worker_id = NULL,
		    picked_up_at = NULL
		WHERE status = 'processing'
		  AND picked_up_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(q.leaseTimeout.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Warn("stale queue items reclaimed", "count", n,
			"lease_timeout", q.leaseTimeout.String())
	}
	return n, nil
}

// PendingCount returns the number of pending items for an enrollment.
// The state machine uses it to enforce strict per-enrollment ordering.
func (q *Queue) PendingCount(ctx context.Context, enrollmentID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sequence_action_queue
		WHERE enrollment_id = $1 AND status IN ('pending', 'processing')
	`, enrollmentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}
