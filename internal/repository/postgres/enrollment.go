package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/enrollment"
)

// EnrollmentRepo implements enrollment.Repository.
type EnrollmentRepo struct{ db *sql.DB }

func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentCols = `
	id, sequence_id, principal_id,
	contact_email, COALESCE(contact_name,''), COALESCE(contact_linkedin,''),
	COALESCE(contact_phone,''), COALESCE(lead_id,''),
	COALESCE(variables, '{}'::jsonb), status, current_step, next_step_at,
	ab_variant, enrolled_at, terminal_at, COALESCE(stop_reason,'')`

func scanEnrollment(row interface{ Scan(...interface{}) error }) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	var vars []byte
	err := row.Scan(
		&e.ID, &e.SequenceID, &e.PrincipalID,
		&e.Contact.Email, &e.Contact.Name, &e.Contact.LinkedInURL,
		&e.Contact.Phone, &e.Contact.LeadID,
		&vars, &e.Status, &e.CurrentStep, &e.NextStepAt,
		&e.ABVariant, &e.EnrolledAt, &e.TerminalAt, &e.StopReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vars, &e.Variables); err != nil {
		return nil, fmt.Errorf("decode enrollment variables: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) error {
	vars, err := json.Marshal(e.Variables)
	if err != nil {
		return fmt.Errorf("encode enrollment variables: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sequence_enrollments (
			id, sequence_id, principal_id,
			contact_email, contact_name, contact_linkedin, contact_phone, lead_id,
			variables, status, current_step, next_step_at, ab_variant, enrolled_at
		) VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),$9,$10,$11,$12,$13,$14)
	`, e.ID, e.SequenceID, e.PrincipalID,
		e.Contact.Email, e.Contact.Name, e.Contact.LinkedInURL, e.Contact.Phone, e.Contact.LeadID,
		vars, e.Status, e.CurrentStep, e.NextStepAt, e.ABVariant, e.EnrolledAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return enrollment.ErrAlreadyEnrolled
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *EnrollmentRepo) Get(ctx context.Context, principalID, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentCols+` FROM sequence_enrollments WHERE id = $1 AND principal_id = $2`,
		id, principalID))
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentCols+` FROM sequence_enrollments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) List(ctx context.Context, principalID, sequenceID string, limit, offset int) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+enrollmentCols+`
		 FROM sequence_enrollments
		 WHERE principal_id = $1 AND sequence_id = $2
		 ORDER BY enrolled_at DESC
		 LIMIT $3 OFFSET $4`,
		principalID, sequenceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EnrollmentRepo) HasActiveOrPaused(ctx context.Context, sequenceID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sequence_enrollments
			WHERE sequence_id = $1 AND contact_email = $2
			  AND status IN ('active', 'paused')
		)`, sequenceID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

func (r *EnrollmentRepo) UpdateStatus(ctx context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, reason string) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = $2,
		    stop_reason = COALESCE(NULLIF($4, ''), stop_reason),
		    terminal_at = CASE WHEN $5 THEN NOW() ELSE terminal_at END
		WHERE id = $1 AND status = ANY($3)
	`, id, to, pq.Array(fromStrs), reason, to.IsTerminal())
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if n == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sequence_enrollments WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check enrollment: %w", err)
		}
		if !exists {
			return enrollment.ErrNotFound
		}
		return enrollment.ErrInvalidTransition
	}
	return nil
}

func (r *EnrollmentRepo) SetProgress(ctx context.Context, id string, currentStep int, nextStepAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET current_step = $2, next_step_at = $3
		WHERE id = $1
	`, id, currentStep, nextStepAt)
	if err != nil {
		return fmt.Errorf("set enrollment progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set enrollment progress: %w", err)
	}
	if n == 0 {
		return enrollment.ErrNotFound
	}
	return nil
}

func (r *EnrollmentRepo) NonTerminalIDsForSequence(ctx context.Context, sequenceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM sequence_enrollments
		WHERE sequence_id = $1 AND status IN ('active', 'paused')
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list live enrollments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan enrollment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
