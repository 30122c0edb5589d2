package enrollment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowhq/outreach/internal/domain"
)

// A Tuesday at 10:00 UTC, inside the default Mon-Fri 09:00-18:00 window,
// so snapping leaves times unchanged and assertions stay simple.
var tuesday = time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Enrollment
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*domain.Enrollment)}
}

func (m *memRepo) Create(_ context.Context, e *domain.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SequenceID == e.SequenceID && r.Contact.Email == e.Contact.Email &&
			(r.Status == domain.EnrollmentActive || r.Status == domain.EnrollmentPaused) {
			return ErrAlreadyEnrolled
		}
	}
	cp := *e
	m.rows[e.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, principalID, id string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.PrincipalID != principalID {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, principalID, sequenceID string, limit, offset int) ([]domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Enrollment
	for _, r := range m.rows {
		if r.PrincipalID == principalID && r.SequenceID == sequenceID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) HasActiveOrPaused(_ context.Context, sequenceID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SequenceID == sequenceID && r.Contact.Email == email &&
			(r.Status == domain.EnrollmentActive || r.Status == domain.EnrollmentPaused) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id string, from []domain.EnrollmentStatus, to domain.EnrollmentStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			if to.IsTerminal() {
				now := time.Now()
				r.TerminalAt = &now
				r.StopReason = reason
			}
			return nil
		}
	}
	return ErrInvalidTransition
}

func (m *memRepo) SetProgress(_ context.Context, id string, currentStep int, nextStepAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	r.CurrentStep = currentStep
	r.NextStepAt = nextStepAt
	return nil
}

func (m *memRepo) NonTerminalIDsForSequence(_ context.Context, sequenceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.rows {
		if r.SequenceID == sequenceID && !r.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memSeqs struct {
	seq   *domain.Sequence
	steps []domain.Step
}

func (m *memSeqs) Get(_ context.Context, principalID, id string) (*domain.Sequence, error) {
	if m.seq == nil || m.seq.ID != id || m.seq.PrincipalID != principalID {
		return nil, ErrNotFound
	}
	cp := *m.seq
	return &cp, nil
}

func (m *memSeqs) Steps(_ context.Context, sequenceID string) ([]domain.Step, error) {
	return append([]domain.Step(nil), m.steps...), nil
}

type memActions struct {
	mu      sync.Mutex
	byStep  map[string]*domain.Action // enrollmentID+"/"+stepID
	skipped []string
}

func newMemActions() *memActions {
	return &memActions{byStep: make(map[string]*domain.Action)}
}

func (m *memActions) GetForStep(_ context.Context, enrollmentID, stepID string) (*domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byStep[enrollmentID+"/"+stepID], nil
}

func (m *memActions) MarkSkipped(_ context.Context, enrollmentID, stepID string, _ domain.StepType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, stepID)
	return nil
}

type queuedItem struct {
	enrollmentID string
	stepID       string
	at           time.Time
}

type memQueue struct {
	mu        sync.Mutex
	items     []queuedItem
	cancelled []string
}

func (m *memQueue) Enqueue(_ context.Context, enrollmentID, stepID string, at time.Time, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, queuedItem{enrollmentID, stepID, at})
	return "item-1", nil
}

func (m *memQueue) CancelForEnrollment(_ context.Context, enrollmentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, enrollmentID)
	return 1, nil
}

func (m *memQueue) CancelForSequence(_ context.Context, sequenceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, "seq:"+sequenceID)
	return 1, nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	seqs    *memSeqs
	actions *memActions
	queue   *memQueue
}

func newFixture(steps []domain.Step) *fixture {
	f := &fixture{
		repo:    newMemRepo(),
		actions: newMemActions(),
		queue:   &memQueue{},
	}
	f.seqs = &memSeqs{
		seq: &domain.Sequence{
			ID:          "seq-1",
			PrincipalID: "org-1",
			Status:      domain.SequenceActive,
			Settings:    domain.DefaultSettings("UTC"),
		},
		steps: steps,
	}
	f.svc = NewService(f.repo, f.seqs, f.actions, f.queue)
	f.svc.now = func() time.Time { return tuesday }
	return f
}

func threeEmailSteps() []domain.Step {
	return []domain.Step{
		{ID: "s1", SequenceID: "seq-1", StepOrder: 1, Type: domain.StepEmail, Subject: "a", Active: true},
		{ID: "s2", SequenceID: "seq-1", StepOrder: 2, Type: domain.StepEmail, Subject: "b", Active: true,
			Delay: domain.StepDelay{Days: 2}},
		{ID: "s3", SequenceID: "seq-1", StepOrder: 3, Type: domain.StepEmail, Subject: "c", Active: true,
			Delay: domain.StepDelay{Days: 1}},
	}
}

func TestEnroll(t *testing.T) {
	f := newFixture(threeEmailSteps())

	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com", Name: "Ada"}, map[string]string{"company": "Acme"})
	require.NoError(t, err)

	assert.Equal(t, domain.EnrollmentActive, e.Status)
	assert.Equal(t, 0, e.CurrentStep)
	require.NotNil(t, e.NextStepAt)
	assert.Equal(t, tuesday, *e.NextStepAt)
	assert.Contains(t, []domain.ABVariant{domain.VariantA, domain.VariantB}, e.ABVariant)

	require.Len(t, f.queue.items, 1)
	assert.Equal(t, "s1", f.queue.items[0].stepID)
	assert.Equal(t, tuesday, f.queue.items[0].at)
}

func TestEnrollRejectsDuplicate(t *testing.T) {
	f := newFixture(threeEmailSteps())

	_, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	_, err = f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestEnrollRequiresActiveSequence(t *testing.T) {
	f := newFixture(threeEmailSteps())
	f.seqs.seq.Status = domain.SequencePaused

	_, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	assert.ErrorIs(t, err, ErrSequenceNotActive)
}

func TestEnrollRequiresEmailAndSteps(t *testing.T) {
	f := newFixture(threeEmailSteps())
	_, err := f.svc.Enroll(context.Background(), "org-1", "seq-1", domain.Contact{}, nil)
	assert.ErrorIs(t, err, ErrMissingEmail)

	empty := newFixture(nil)
	_, err = empty.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	assert.ErrorIs(t, err, ErrNoActiveSteps)
}

func TestAdvanceQueuesNextStepWithDelay(t *testing.T) {
	f := newFixture(threeEmailSteps())
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[0], false))

	got, err := f.repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	require.NotNil(t, got.NextStepAt)
	assert.Equal(t, tuesday.AddDate(0, 0, 2), *got.NextStepAt)

	require.Len(t, f.queue.items, 2)
	assert.Equal(t, "s2", f.queue.items[1].stepID)
}

func TestAdvanceReplayDoesNotEnqueueTwice(t *testing.T) {
	f := newFixture(threeEmailSteps())
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[0], false))
	require.Len(t, f.queue.items, 2)

	// A worker dying between advancing and settling the queue item replays
	// the same dispatch. The replayed advance must not enqueue step two again.
	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[0], false))

	require.Len(t, f.queue.items, 2)
	got, err := f.repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
}

func TestAdvancePastLastStepCompletes(t *testing.T) {
	f := newFixture(threeEmailSteps())
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[2], false))

	got, err := f.repo.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCompleted, got.Status)
	assert.Nil(t, got.NextStepAt)
	assert.NotNil(t, got.TerminalAt)
}

func TestAdvanceSkipsInactiveSteps(t *testing.T) {
	steps := threeEmailSteps()
	steps[1].Active = false
	f := newFixture(steps)
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &steps[0], false))

	require.Len(t, f.queue.items, 2)
	assert.Equal(t, "s3", f.queue.items[1].stepID)
}

func TestAdvanceNoOpWhenNotActive(t *testing.T) {
	f := newFixture(threeEmailSteps())
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Stop(context.Background(), "org-1", e.ID, "manual"))

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[0], false))
	require.Len(t, f.queue.items, 1) // only the enroll-time item
}

func TestAdvanceTrueConditionQueuesImmediately(t *testing.T) {
	steps := []domain.Step{
		{ID: "s1", StepOrder: 1, Type: domain.StepEmail, Subject: "a", Active: true},
		{ID: "s2", StepOrder: 2, Type: domain.StepCondition, Active: true,
			ConditionType: domain.CondIfOpened, ConditionStepID: "s1",
			Delay: domain.StepDelay{Days: 3}},
		{ID: "s3", StepOrder: 3, Type: domain.StepEmail, Subject: "c", Active: true,
			Delay: domain.StepDelay{Days: 5}},
	}
	f := newFixture(steps)
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &steps[1], true))

	// Follow-up scheduled now, the 5 day delay is bypassed.
	require.Len(t, f.queue.items, 2)
	assert.Equal(t, "s3", f.queue.items[1].stepID)
	assert.Equal(t, tuesday, f.queue.items[1].at)
}

func TestAdvanceFalseConditionSkipsConditionChain(t *testing.T) {
	steps := []domain.Step{
		{ID: "s1", StepOrder: 1, Type: domain.StepEmail, Subject: "a", Active: true},
		{ID: "s2", StepOrder: 2, Type: domain.StepCondition, Active: true,
			ConditionType: domain.CondIfOpened, ConditionStepID: "s1"},
		{ID: "s3", StepOrder: 3, Type: domain.StepCondition, Active: true,
			ConditionType: domain.CondIfClicked, ConditionStepID: "s1"},
		{ID: "s4", StepOrder: 4, Type: domain.StepEmail, Subject: "d", Active: true,
			Delay: domain.StepDelay{Days: 1}},
	}
	f := newFixture(steps)
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &steps[1], false))

	assert.Equal(t, []string{"s3"}, f.actions.skipped)
	require.Len(t, f.queue.items, 2)
	assert.Equal(t, "s4", f.queue.items[1].stepID)
	assert.Equal(t, tuesday.AddDate(0, 0, 1), f.queue.items[1].at)
}

func TestTerminalTransitionsCancelQueue(t *testing.T) {
	cases := []struct {
		name string
		call func(f *fixture, id string) error
		want domain.EnrollmentStatus
	}{
		{"replied", func(f *fixture, id string) error { return f.svc.MarkReplied(context.Background(), id) }, domain.EnrollmentReplied},
		{"bounced", func(f *fixture, id string) error { return f.svc.MarkBounced(context.Background(), id) }, domain.EnrollmentBounced},
		{"stopped", func(f *fixture, id string) error {
			return f.svc.Stop(context.Background(), "org-1", id, "changed my mind")
		}, domain.EnrollmentStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(threeEmailSteps())
			e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
				domain.Contact{Email: "ada@example.com"}, nil)
			require.NoError(t, err)

			require.NoError(t, tc.call(f, e.ID))

			got, err := f.repo.GetByID(context.Background(), e.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			assert.NotNil(t, got.TerminalAt)
			assert.Contains(t, f.queue.cancelled, e.ID)

			// Repeating the transition is rejected.
			assert.ErrorIs(t, tc.call(f, e.ID), ErrInvalidTransition)
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(threeEmailSteps())
	e, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
		domain.Contact{Email: "ada@example.com"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Advance(context.Background(), e.ID, &f.seqs.steps[0], false))

	require.NoError(t, f.svc.Pause(context.Background(), "org-1", e.ID))
	assert.Contains(t, f.queue.cancelled, e.ID)

	got, _ := f.repo.GetByID(context.Background(), e.ID)
	assert.Equal(t, domain.EnrollmentPaused, got.Status)

	require.NoError(t, f.svc.Resume(context.Background(), "org-1", e.ID))
	got, _ = f.repo.GetByID(context.Background(), e.ID)
	assert.Equal(t, domain.EnrollmentActive, got.Status)
	require.NotNil(t, got.NextStepAt)
	// Step 2's delay reapplied from the resume instant.
	assert.Equal(t, tuesday.AddDate(0, 0, 2), *got.NextStepAt)

	last := f.queue.items[len(f.queue.items)-1]
	assert.Equal(t, "s2", last.stepID)
}

func TestStopAllForSequence(t *testing.T) {
	f := newFixture(threeEmailSteps())
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := f.svc.Enroll(context.Background(), "org-1", "seq-1",
			domain.Contact{Email: email}, nil)
		require.NoError(t, err)
	}

	n, err := f.svc.StopAllForSequence(context.Background(), "seq-1", "sequence_archived")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, f.queue.cancelled, "seq:seq-1")

	for id := range f.repo.rows {
		assert.Equal(t, domain.EnrollmentStopped, f.repo.rows[id].Status)
		assert.Equal(t, "sequence_archived", f.repo.rows[id].StopReason)
	}
}
