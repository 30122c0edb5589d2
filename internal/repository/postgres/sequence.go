// Package postgres implements the service repositories against PostgreSQL
// with plain database/sql and raw queries. Conditional updates carry their
// state predicate in the WHERE clause so concurrent writers cannot
// double-apply transitions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/sequence"
)

// SequenceRepo implements sequence.Repository.
type SequenceRepo struct{ db *sql.DB }

func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

func (r *SequenceRepo) Get(ctx context.Context, principalID, id string) (*domain.Sequence, error) {
	s := &domain.Sequence{}
	var settings []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, principal_id, name, status, settings, created_at, updated_at
		FROM sequences
		WHERE id = $1 AND principal_id = $2
	`, id, principalID).Scan(
		&s.ID, &s.PrincipalID, &s.Name, &s.Status, &settings, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("decode sequence settings: %w", err)
	}
	if err := r.loadCounts(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SequenceRepo) loadCounts(ctx context.Context, s *domain.Sequence) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM sequence_enrollments
		WHERE sequence_id = $1
		GROUP BY status
	`, s.ID)
	if err != nil {
		return fmt.Errorf("count enrollments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.EnrollmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return fmt.Errorf("scan enrollment count: %w", err)
		}
		switch status {
		case domain.EnrollmentActive:
			s.ActiveCount = n
		case domain.EnrollmentCompleted:
			s.CompletedCount = n
		case domain.EnrollmentReplied:
			s.RepliedCount = n
		case domain.EnrollmentBounced:
			s.BouncedCount = n
		case domain.EnrollmentStopped:
			s.StoppedCount = n
		}
	}
	return rows.Err()
}

func (r *SequenceRepo) List(ctx context.Context, principalID string, limit, offset int) ([]domain.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_id, name, status, settings, created_at, updated_at
		FROM sequences
		WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, principalID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []domain.Sequence
	for rows.Next() {
		var s domain.Sequence
		var settings []byte
		if err := rows.Scan(&s.ID, &s.PrincipalID, &s.Name, &s.Status, &settings, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		if err := json.Unmarshal(settings, &s.Settings); err != nil {
			return nil, fmt.Errorf("decode sequence settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) Create(ctx context.Context, s *domain.Sequence) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encode sequence settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sequences (id, principal_id, name, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, s.ID, s.PrincipalID, s.Name, s.Status, settings)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

func (r *SequenceRepo) UpdateStatus(ctx context.Context, principalID, id string, from []domain.SequenceStatus, to domain.SequenceStatus) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequences
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND principal_id = $2 AND status = ANY($4)
	`, id, principalID, to, pq.Array(fromStrs))
	if err != nil {
		return fmt.Errorf("update sequence status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sequence status: %w", err)
	}
	if n == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sequences WHERE id = $1 AND principal_id = $2)`,
			id, principalID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check sequence: %w", err)
		}
		if !exists {
			return sequence.ErrNotFound
		}
		return sequence.ErrInvalidTransition
	}
	return nil
}

func (r *SequenceRepo) Steps(ctx context.Context, sequenceID string) ([]domain.Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence_id, step_order, step_type,
		       delay_days, delay_hours, delay_minutes,
		       COALESCE(subject,''), COALESCE(content,''),
		       COALESCE(subject_b,''), COALESCE(content_b,''),
		       COALESCE(condition_type,''), COALESCE(condition_step_id,''),
		       COALESCE(platform_settings, 'null'::jsonb), active, created_at
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.Step
	for rows.Next() {
		var st domain.Step
		var platform []byte
		if err := rows.Scan(
			&st.ID, &st.SequenceID, &st.StepOrder, &st.Type,
			&st.Delay.Days, &st.Delay.Hours, &st.Delay.Minutes,
			&st.Subject, &st.Content, &st.SubjectB, &st.ContentB,
			&st.ConditionType, &st.ConditionStepID,
			&platform, &st.Active, &st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if len(platform) > 0 && string(platform) != "null" {
			if err := json.Unmarshal(platform, &st.PlatformSettings); err != nil {
				return nil, fmt.Errorf("decode platform settings: %w", err)
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) CreateStep(ctx context.Context, st *domain.Step) error {
	var platform interface{}
	if st.PlatformSettings != nil {
		b, err := json.Marshal(st.PlatformSettings)
		if err != nil {
			return fmt.Errorf("encode platform settings: %w", err)
		}
		platform = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_steps (
			id, sequence_id, step_order, step_type,
			delay_days, delay_hours, delay_minutes,
			subject, content, subject_b, content_b,
			condition_type, condition_step_id,
			platform_settings, active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12,''),NULLIF($13,''),$14,$15,NOW())
	`, st.ID, st.SequenceID, st.StepOrder, st.Type,
		st.Delay.Days, st.Delay.Hours, st.Delay.Minutes,
		st.Subject, st.Content, st.SubjectB, st.ContentB,
		string(st.ConditionType), st.ConditionStepID,
		platform, st.Active)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (r *SequenceRepo) DailyStats(ctx context.Context, principalID, sequenceID string, days int) ([]sequence.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, sent, failed, replied, bounced
		FROM sequence_daily_stats
		WHERE principal_id = $1 AND sequence_id = $2
		  AND day >= CURRENT_DATE - $3::int
		ORDER BY day
	`, principalID, sequenceID, days)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var out []sequence.DailyStat
	for rows.Next() {
		var d sequence.DailyStat
		if err := rows.Scan(&d.Day, &d.Sent, &d.Failed, &d.Replied, &d.Bounced); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
