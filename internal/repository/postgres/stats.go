package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StatsRepo maintains the sequence_daily_stats rollup table.
type StatsRepo struct{ db *sql.DB }

func NewStatsRepo(db *sql.DB) *StatsRepo { return &StatsRepo{db: db} }

// RollupDaily recomputes the given day's per-sequence counters from the
// action log. Idempotent; the scheduler runs it once per maintenance cycle.
func (r *StatsRepo) RollupDaily(ctx context.Context, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_daily_stats (principal_id, sequence_id, day, sent, failed, replied, bounced)
		SELECT e.principal_id, e.sequence_id, $1::date,
		       COUNT(*) FILTER (WHERE a.status = 'sent' AND a.sent_at::date = $1::date),
		       COUNT(*) FILTER (WHERE a.status = 'failed' AND a.failed_at::date = $1::date),
		       COUNT(*) FILTER (WHERE a.replied_at::date = $1::date),
		       COUNT(*) FILTER (WHERE a.bounced_at::date = $1::date)
		FROM sequence_actions a
		JOIN sequence_enrollments e ON e.id = a.enrollment_id
		WHERE a.sent_at::date = $1::date
		   OR a.failed_at::date = $1::date
		   OR a.replied_at::date = $1::date
		   OR a.bounced_at::date = $1::date
		GROUP BY e.principal_id, e.sequence_id
		ON CONFLICT (sequence_id, day) DO UPDATE
		SET sent = EXCLUDED.sent,
		    failed = EXCLUDED.failed,
		    replied = EXCLUDED.replied,
		    bounced = EXCLUDED.bounced
	`, day)
	if err != nil {
		return fmt.Errorf("rollup daily stats: %w", err)
	}
	return nil
}
