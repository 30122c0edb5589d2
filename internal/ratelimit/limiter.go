// Package ratelimit enforces per-sending-account hourly and daily send caps.
//
// The authoritative limiter is a single conditional UPDATE on the
// email_accounts row: window rollover, cap check, and counter reservation
// happen in one statement, so concurrent workers sharing an account can never
// overshoot a cap. An optional Redis fast path (see RedisLimiter) screens
// obviously-capped accounts without touching the row.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leadflowhq/outreach/internal/metrics"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
)

// DisableThreshold is the consecutive-error count at which an account is
// automatically deactivated. Re-enablement is manual.
const DisableThreshold = 5

// Limiter enforces send caps against the email_accounts table.
type Limiter struct {
	db    *sql.DB
	redis *RedisLimiter // optional
}

// New creates a DB-backed limiter. redis may be nil.
func New(db *sql.DB, redis *RedisLimiter) *Limiter {
	return &Limiter{db: db, redis: redis}
}

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Allowed bool
	// RetryAt is the earliest instant a denied dispatch may be retried
	// (start of the next hourly or daily window).
	RetryAt time.Time
}

// Reserve atomically rolls over expired windows, checks both caps, and
// reserves one send slot. A denied reservation reports when the tighter
// window reopens. Callers must pair every allowed reservation with either a
// successful dispatch or a Release.
func (l *Limiter) Reserve(ctx context.Context, accountID string) (Decision, error) {
	if l.redis != nil {
		allowed, retryAfter, err := l.redis.Allow(ctx, accountID)
		if err != nil {
			// Redis trouble never blocks sending; the DB row is authoritative.
			logger.Warn("redis rate limit check failed, falling through", "account_id", accountID, "error", err.Error())
		} else if !allowed {
			metrics.RateLimitDeferred.Inc()
			return Decision{RetryAt: time.Now().Add(retryAfter)}, nil
		}
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET sent_this_hour = CASE WHEN NOW() - last_reset_hourly >= INTERVAL '1 hour'
		                          THEN 1 ELSE sent_this_hour + 1 END,
		    last_reset_hourly = CASE WHEN NOW() - last_reset_hourly >= INTERVAL '1 hour'
		                             THEN NOW() ELSE last_reset_hourly END,
		    sent_today = CASE WHEN NOW() - last_reset_daily >= INTERVAL '24 hours'
		                      THEN 1 ELSE sent_today + 1 END,
		    last_reset_daily = CASE WHEN NOW() - last_reset_daily >= INTERVAL '24 hours'
		                            THEN NOW() ELSE last_reset_daily END
		WHERE id = $1
		  AND active = TRUE
		  AND (CASE WHEN NOW() - last_reset_hourly >= INTERVAL '1 hour'
		            THEN 0 ELSE sent_this_hour END) < hourly_cap
		  AND (CASE WHEN NOW() - last_reset_daily >= INTERVAL '24 hours'
		            THEN 0 ELSE sent_today END) < daily_cap
	`, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Debug("rate limit slot reserved", "account_id", accountID)
		return Decision{Allowed: true}, nil
	}

	retryAt, err := l.nextWindow(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}
	metrics.RateLimitDeferred.Inc()
	logger.Info("rate limit deferred", "account_id", accountID,
		"retry_at", retryAt.UTC().Format(time.RFC3339))
	return Decision{RetryAt: retryAt}, nil
}

// nextWindow computes when a capped account next has capacity.
func (l *Limiter) nextWindow(ctx context.Context, accountID string) (time.Time, error) {
	var (
		sentHour, hourlyCap int
		sentDay, dailyCap   int
		resetHour, resetDay time.Time
		active              bool
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT sent_this_hour, hourly_cap, sent_today, daily_cap,
		       last_reset_hourly, last_reset_daily, active
		FROM email_accounts WHERE id = $1
	`, accountID).Scan(&sentHour, &hourlyCap, &sentDay, &dailyCap, &resetHour, &resetDay, &active)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("sending account %s not found", accountID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load account windows: %w", err)
	}
	if !active {
		return time.Time{}, ErrAccountDisabled
	}

	now := time.Now()
	retry := now
	if sentDay >= dailyCap {
		retry = resetDay.Add(24 * time.Hour)
	} else if sentHour >= hourlyCap {
		retry = resetHour.Add(time.Hour)
	}
	if retry.Before(now) {
		// Window already rolled between our UPDATE and this read; retry soon.
		retry = now.Add(time.Minute)
	}
	return retry, nil
}

// Release returns a reserved slot after a failed dispatch so the failure
// does not consume cap.
func (l *Limiter) Release(ctx context.Context, accountID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET sent_this_hour = GREATEST(sent_this_hour - 1, 0),
		    sent_today = GREATEST(sent_today - 1, 0)
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// RecordSuccess clears the account's consecutive-error streak after a
// successful dispatch. Counters were already charged by Reserve.
func (l *Limiter) RecordSuccess(ctx context.Context, accountID string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET consecutive_errors = 0, last_error = NULL
		WHERE id = $1
	`, accountID)
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}

// RecordFailure increments the consecutive-error streak, stores the error,
// releases the reserved slot, and deactivates the account once the streak
// reaches DisableThreshold. Returns true when the account was disabled by
// this call.
func (l *Limiter) RecordFailure(ctx context.Context, accountID, errMsg string) (bool, error) {
	if err := l.Release(ctx, accountID); err != nil {
		return false, err
	}

	var disabled bool
	err := l.db.QueryRowContext(ctx, `
		UPDATE email_accounts
		SET consecutive_errors = consecutive_errors + 1,
		    last_error = $2,
		    active = CASE WHEN consecutive_errors + 1 >= $3 THEN FALSE ELSE active END
		WHERE id = $1
		RETURNING NOT active
	`, accountID, errMsg, DisableThreshold).Scan(&disabled)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("sending account %s not found", accountID)
	}
	if err != nil {
		return false, fmt.Errorf("record failure: %w", err)
	}
	if disabled {
		metrics.AccountsDisabled.Inc()
		logger.Error("sending account auto-disabled",
			"account_id", accountID, "last_error", errMsg)
	}
	return disabled, nil
}
