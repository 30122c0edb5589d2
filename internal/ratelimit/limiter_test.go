package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAllowed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := New(db, nil)
	d, err := l.Reserve(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveDeniedReportsHourlyWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resetHour := time.Now().Add(-30 * time.Minute)
	resetDay := time.Now().Add(-2 * time.Hour)

	// Conditional update matches nothing: account is capped.
	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sent_this_hour").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"sent_this_hour", "hourly_cap", "sent_today", "daily_cap",
			"last_reset_hourly", "last_reset_daily", "active",
		}).AddRow(10, 10, 50, 200, resetHour, resetDay, true))

	l := New(db, nil)
	d, err := l.Reserve(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, resetHour.Add(time.Hour), d.RetryAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveDeniedReportsDailyWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resetHour := time.Now().Add(-10 * time.Minute)
	resetDay := time.Now().Add(-3 * time.Hour)

	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sent_this_hour").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"sent_this_hour", "hourly_cap", "sent_today", "daily_cap",
			"last_reset_hourly", "last_reset_daily", "active",
		}).AddRow(3, 10, 200, 200, resetHour, resetDay, true))

	l := New(db, nil)
	d, err := l.Reserve(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, resetDay.Add(24*time.Hour), d.RetryAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAgainstDisabledAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sent_this_hour").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"sent_this_hour", "hourly_cap", "sent_today", "daily_cap",
			"last_reset_hourly", "last_reset_daily", "active",
		}).AddRow(0, 10, 0, 200, time.Now(), time.Now(), false))

	l := New(db, nil)
	_, err = l.Reserve(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureDisablesAtThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Release of the reserved slot, then the error-streak update.
	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE email_accounts").
		WithArgs("acct-1", "auth failed", DisableThreshold).
		WillReturnRows(sqlmock.NewRows([]string{"not_active"}).AddRow(true))

	l := New(db, nil)
	disabled, err := l.RecordFailure(context.Background(), "acct-1", "auth failed")
	require.NoError(t, err)
	assert.True(t, disabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSuccessClearsStreak(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := New(db, nil)
	require.NoError(t, l.RecordSuccess(context.Background(), "acct-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
