package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/tracking"
)

// ErrActionNotFound marks a lookup for a missing dispatch record.
var ErrActionNotFound = errors.New("action not found")

// ActionRepo persists dispatch records and their engagement flags. It backs
// the executor's ActionStore, the state machine's action reads, and the
// tracking service's outcome writes.
type ActionRepo struct{ db *sql.DB }

func NewActionRepo(db *sql.DB) *ActionRepo { return &ActionRepo{db: db} }

const actionCols = `
	id, enrollment_id, step_id, action_type, status, scheduled_at,
	sent_at, failed_at, COALESCE(sent_subject,''), COALESCE(sent_content,''),
	platform_response, COALESCE(tracking_id,''), COALESCE(error_message,''),
	opened_at, clicked_at, replied_at, bounced_at`

func scanAction(row interface{ Scan(...interface{}) error }) (*domain.Action, error) {
	a := &domain.Action{}
	var resp []byte
	err := row.Scan(
		&a.ID, &a.EnrollmentID, &a.StepID, &a.Type, &a.Status, &a.ScheduledAt,
		&a.SentAt, &a.FailedAt, &a.SentSubject, &a.SentContent,
		&resp, &a.TrackingID, &a.ErrorMessage,
		&a.OpenedAt, &a.ClickedAt, &a.RepliedAt, &a.BouncedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PlatformResponse = resp
	return a, nil
}

// GetForStep returns the non-skipped action for (enrollment, step), or nil
// when none has been recorded.
func (r *ActionRepo) GetForStep(ctx context.Context, enrollmentID, stepID string) (*domain.Action, error) {
	a, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionCols+`
		 FROM sequence_actions
		 WHERE enrollment_id = $1 AND step_id = $2 AND status <> 'skipped'`,
		enrollmentID, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (r *ActionRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Action, error) {
	a, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionCols+` FROM sequence_actions WHERE tracking_id = $1`,
		trackingID))
	if err == sql.ErrNoRows {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action by tracking id: %w", err)
	}
	return a, nil
}

func (r *ActionRepo) Create(ctx context.Context, a *domain.Action) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_actions (
			id, enrollment_id, step_id, action_type, status, scheduled_at,
			sent_subject, sent_content, tracking_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''))
	`, a.ID, a.EnrollmentID, a.StepID, a.Type, a.Status, a.ScheduledAt,
		a.SentSubject, a.SentContent, a.TrackingID)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (r *ActionRepo) MarkSent(ctx context.Context, actionID string, at time.Time, platformResponse json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sequence_actions
		SET status = 'sent', sent_at = $2, platform_response = $3
		WHERE id = $1
	`, actionID, at, []byte(platformResponse))
	if err != nil {
		return fmt.Errorf("mark action sent: %w", err)
	}
	return nil
}

func (r *ActionRepo) MarkFailed(ctx context.Context, actionID string, at time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sequence_actions
		SET status = 'failed', failed_at = $2, error_message = $3
		WHERE id = $1
	`, actionID, at, errMsg)
	if err != nil {
		return fmt.Errorf("mark action failed: %w", err)
	}
	return nil
}

func (r *ActionRepo) MarkSkipped(ctx context.Context, enrollmentID, stepID string, stepType domain.StepType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_actions (id, enrollment_id, step_id, action_type, status, scheduled_at)
		VALUES ($1, $2, $3, $4, 'skipped', NOW())
	`, uuid.New().String(), enrollmentID, stepID, stepType)
	if err != nil {
		return fmt.Errorf("mark step skipped: %w", err)
	}
	return nil
}

// markFirst sets a timestamp column once; later observations are no-ops.
func (r *ActionRepo) markFirst(ctx context.Context, column, actionID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sequence_actions SET `+column+` = $2 WHERE id = $1 AND `+column+` IS NULL`,
		actionID, at)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	return n > 0, nil
}

func (r *ActionRepo) MarkOpened(ctx context.Context, actionID string, at time.Time) (bool, error) {
	return r.markFirst(ctx, "opened_at", actionID, at)
}

func (r *ActionRepo) MarkClicked(ctx context.Context, actionID string, at time.Time) (bool, error) {
	return r.markFirst(ctx, "clicked_at", actionID, at)
}

func (r *ActionRepo) MarkReplied(ctx context.Context, actionID string, at time.Time) (bool, error) {
	return r.markFirst(ctx, "replied_at", actionID, at)
}

func (r *ActionRepo) MarkBounced(ctx context.Context, actionID string, at time.Time) (bool, error) {
	return r.markFirst(ctx, "bounced_at", actionID, at)
}

// RecordEvent appends one row to the engagement event log.
func (r *ActionRepo) RecordEvent(ctx context.Context, ev *tracking.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_tracking_events (
			id, action_id, enrollment_id, event_type, link_url, ip_address, user_agent, event_at
		) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8)
	`, ev.ID, ev.ActionID, ev.EnrollmentID, ev.Type, ev.LinkURL, ev.IPAddress, ev.UserAgent, ev.EventAt)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}
