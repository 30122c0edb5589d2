package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadflowhq/outreach/internal/domain"
)

// ErrAccountNotFound marks a lookup for a missing sending account.
var ErrAccountNotFound = errors.New("sending account not found")

// AccountRepo manages email_accounts rows. The rate limiter mutates the
// counter columns directly; this repo covers selection and management.
type AccountRepo struct{ db *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountCols = `
	id, principal_id, channel, transport,
	COALESCE(from_name,''), from_email,
	COALESCE(smtp_host,''), COALESCE(smtp_port,0), COALESCE(smtp_username,''), COALESCE(smtp_password,''),
	COALESCE(aws_region,''), COALESCE(aws_access_key,''), COALESCE(aws_secret_key,''),
	active, verified, hourly_cap, daily_cap,
	sent_this_hour, sent_today, last_reset_hourly, last_reset_daily,
	consecutive_errors, COALESCE(last_error,'')`

func scanAccount(row interface{ Scan(...interface{}) error }) (*domain.SendingAccount, error) {
	a := &domain.SendingAccount{}
	err := row.Scan(
		&a.ID, &a.PrincipalID, &a.Channel, &a.Transport,
		&a.FromName, &a.FromEmail,
		&a.SMTPHost, &a.SMTPPort, &a.SMTPUser, &a.SMTPPass,
		&a.AWSRegion, &a.AWSAccessKey, &a.AWSSecretKey,
		&a.Active, &a.Verified, &a.HourlyCap, &a.DailyCap,
		&a.SentThisHour, &a.SentToday, &a.LastResetHour, &a.LastResetDaily,
		&a.ConsecutiveErrors, &a.LastError,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ActiveForPrincipal returns dispatch-ready accounts ordered so the least
// loaded, healthiest account is tried first.
func (r *AccountRepo) ActiveForPrincipal(ctx context.Context, principalID string, channel domain.StepType) ([]domain.SendingAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountCols+`
		 FROM email_accounts
		 WHERE principal_id = $1 AND channel = $2 AND active = TRUE AND verified = TRUE
		 ORDER BY consecutive_errors ASC, sent_today ASC, from_email`,
		principalID, channel)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.SendingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AccountRepo) Get(ctx context.Context, principalID, id string) (*domain.SendingAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM email_accounts WHERE id = $1 AND principal_id = $2`,
		id, principalID))
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepo) List(ctx context.Context, principalID string) ([]domain.SendingAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM email_accounts WHERE principal_id = $1 ORDER BY from_email`,
		principalID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.SendingAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AccountRepo) Create(ctx context.Context, a *domain.SendingAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_accounts (
			id, principal_id, channel, transport, from_name, from_email,
			smtp_host, smtp_port, smtp_username, smtp_password,
			aws_region, aws_access_key, aws_secret_key,
			active, verified, hourly_cap, daily_cap,
			sent_this_hour, sent_today, last_reset_hourly, last_reset_daily,
			consecutive_errors
		) VALUES (
			$1,$2,$3,$4,NULLIF($5,''),$6,
			NULLIF($7,''),NULLIF($8,0),NULLIF($9,''),NULLIF($10,''),
			NULLIF($11,''),NULLIF($12,''),NULLIF($13,''),
			$14,$15,$16,$17,0,0,NOW(),NOW(),0
		)
	`, a.ID, a.PrincipalID, a.Channel, a.Transport, a.FromName, a.FromEmail,
		a.SMTPHost, a.SMTPPort, a.SMTPUser, a.SMTPPass,
		a.AWSRegion, a.AWSAccessKey, a.AWSSecretKey,
		a.Active, a.Verified, a.HourlyCap, a.DailyCap)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Enable reactivates an auto-disabled account and clears its error streak.
func (r *AccountRepo) Enable(ctx context.Context, principalID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_accounts
		SET active = TRUE, consecutive_errors = 0, last_error = NULL
		WHERE id = $1 AND principal_id = $2
	`, id, principalID)
	if err != nil {
		return fmt.Errorf("enable account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("enable account: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
