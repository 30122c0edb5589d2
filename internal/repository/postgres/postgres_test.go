package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/enrollment"
	"github.com/leadflowhq/outreach/internal/sequence"
)

func TestSequenceUpdateStatusTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sequences").
		WithArgs("seq-1", "org-1", domain.SequenceActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSequenceRepo(db)
	err = repo.UpdateStatus(context.Background(), "org-1", "seq-1",
		[]domain.SequenceStatus{domain.SequenceDraft}, domain.SequenceActive)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceUpdateStatusInvalidTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sequences").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewSequenceRepo(db)
	err = repo.UpdateStatus(context.Background(), "org-1", "seq-1",
		[]domain.SequenceStatus{domain.SequenceActive}, domain.SequencePaused)
	assert.ErrorIs(t, err, sequence.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceUpdateStatusNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sequences").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	repo := NewSequenceRepo(db)
	err = repo.UpdateStatus(context.Background(), "org-1", "gone",
		[]domain.SequenceStatus{domain.SequenceActive}, domain.SequencePaused)
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}

func TestEnrollmentCreateMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WillReturnError(&pq.Error{Code: "23505"})

	repo := NewEnrollmentRepo(db)
	now := time.Now()
	err = repo.Create(context.Background(), &domain.Enrollment{
		ID: "enr-1", SequenceID: "seq-1", PrincipalID: "org-1",
		Contact:    domain.Contact{Email: "ada@example.com"},
		Status:     domain.EnrollmentActive,
		ABVariant:  domain.VariantA,
		EnrolledAt: now,
	})
	assert.ErrorIs(t, err, enrollment.ErrAlreadyEnrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentUpdateStatusSetsTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("enr-1", domain.EnrollmentStopped, sqlmock.AnyArg(), "manual", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewEnrollmentRepo(db)
	err = repo.UpdateStatus(context.Background(), "enr-1",
		[]domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused},
		domain.EnrollmentStopped, "manual")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionGetForStepMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM sequence_actions").
		WithArgs("enr-1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewActionRepo(db)
	a, err := repo.GetForStep(context.Background(), "enr-1", "s1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestActionMarkOpenedFirstObservationWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec("UPDATE sequence_actions SET opened_at").
		WithArgs("a1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequence_actions SET opened_at").
		WithArgs("a1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewActionRepo(db)
	first, err := repo.MarkOpened(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkOpened(context.Background(), "a1", at)
	require.NoError(t, err)
	assert.False(t, again)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountEnableNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_accounts").
		WithArgs("acct-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewAccountRepo(db)
	assert.ErrorIs(t, repo.Enable(context.Background(), "org-1", "acct-1"), ErrAccountNotFound)
}

func TestStatsRollupDaily(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO sequence_daily_stats").
		WithArgs(day).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := NewStatsRepo(db)
	require.NoError(t, repo.RollupDaily(context.Background(), day))
	require.NoError(t, mock.ExpectationsWereMet())
}
