package enrollment

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/calendar"
	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
)

// SequenceSource is the slice of the sequence repository the state machine
// reads. Satisfied by sequence.Repository.
type SequenceSource interface {
	Get(ctx context.Context, principalID, id string) (*domain.Sequence, error)
	Steps(ctx context.Context, sequenceID string) ([]domain.Step, error)
}

// Service implements the enrollment state machine.
type Service struct {
	repo    Repository
	seqs    SequenceSource
	actions ActionStore
	queue   Queuer

	now func() time.Time
}

func NewService(repo Repository, seqs SequenceSource, actions ActionStore, queue Queuer) *Service {
	return &Service{repo: repo, seqs: seqs, actions: actions, queue: queue, now: time.Now}
}

// Get returns an enrollment scoped to its principal.
func (s *Service) Get(ctx context.Context, principalID, id string) (*domain.Enrollment, error) {
	return s.repo.Get(ctx, principalID, id)
}

// GetByID returns an enrollment without principal scoping. Worker paths use
// it; the HTTP surface goes through Get.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a sequence's enrollments.
func (s *Service) List(ctx context.Context, principalID, sequenceID string, limit, offset int) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, principalID, sequenceID, limit, offset)
}

// Enroll creates an active enrollment for the contact and queues its first
// step. The A/B variant is drawn uniformly at enroll time and never changes.
func (s *Service) Enroll(ctx context.Context, principalID, sequenceID string, contact domain.Contact, vars map[string]string) (*domain.Enrollment, error) {
	if contact.Email == "" {
		return nil, ErrMissingEmail
	}

	seq, err := s.seqs.Get(ctx, principalID, sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != domain.SequenceActive {
		return nil, ErrSequenceNotActive
	}

	exists, err := s.repo.HasActiveOrPaused(ctx, sequenceID, contact.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyEnrolled
	}

	steps, err := s.seqs.Steps(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	first := nextActiveStep(steps, 0)
	if first == nil {
		return nil, ErrNoActiveSteps
	}

	win, err := calendar.Resolve(seq.Settings)
	if err != nil {
		return nil, fmt.Errorf("resolve send window: %w", err)
	}
	now := s.now()
	firstAt := win.Snap(now.Add(first.Delay.Duration()))

	variant := domain.VariantA
	if rand.Intn(2) == 1 {
		variant = domain.VariantB
	}

	e := &domain.Enrollment{
		ID:          uuid.New().String(),
		SequenceID:  sequenceID,
		PrincipalID: principalID,
		Contact:     contact,
		Variables:   vars,
		Status:      domain.EnrollmentActive,
		CurrentStep: 0,
		NextStepAt:  &firstAt,
		ABVariant:   variant,
		EnrolledAt:  now,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, e.ID, first.ID, firstAt, 0); err != nil {
		return nil, fmt.Errorf("enqueue first step: %w", err)
	}

	logger.Info("contact enrolled",
		"enrollment_id", e.ID, "sequence_id", sequenceID,
		"contact_email", contact.Email, "variant", string(variant),
		"first_step_at", firstAt.Format(time.RFC3339))
	return e, nil
}

// Advance moves the enrollment past a successfully dispatched step and
// queues whatever comes next. condResult carries the outcome when the
// dispatched step was a condition; it is ignored otherwise.
//
// A true condition queues the following step immediately, snapped to the
// send window. A false condition skips any directly following condition
// steps and the next regular step is queued with its own delay.
func (s *Service) Advance(ctx context.Context, enrollmentID string, executed *domain.Step, condResult bool) error {
	e, err := s.repo.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if e.Status != domain.EnrollmentActive {
		// Terminal or paused since the item was claimed. Nothing to do.
		return nil
	}
	if e.CurrentStep >= executed.StepOrder {
		// A crash between advancing and settling the queue item replays the
		// dispatch; the next step is already enqueued, so do not enqueue it
		// again.
		return nil
	}

	seq, err := s.seqs.Get(ctx, e.PrincipalID, e.SequenceID)
	if err != nil {
		return err
	}
	steps, err := s.seqs.Steps(ctx, e.SequenceID)
	if err != nil {
		return err
	}

	current := executed.StepOrder
	immediate := false
	if executed.Type == domain.StepCondition {
		if condResult {
			immediate = true
		} else {
			// Skip the run of condition steps chained after a false one.
			for {
				n := nextActiveStep(steps, current)
				if n == nil || n.Type != domain.StepCondition {
					break
				}
				if err := s.actions.MarkSkipped(ctx, e.ID, n.ID, n.Type); err != nil {
					return err
				}
				current = n.StepOrder
			}
		}
	}

	next := nextActiveStep(steps, current)
	if next == nil {
		if err := s.repo.SetProgress(ctx, e.ID, current, nil); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, e.ID,
			[]domain.EnrollmentStatus{domain.EnrollmentActive},
			domain.EnrollmentCompleted, ""); err != nil {
			return err
		}
		logger.Info("enrollment completed", "enrollment_id", e.ID, "sequence_id", e.SequenceID)
		return nil
	}

	win, err := calendar.Resolve(seq.Settings)
	if err != nil {
		return fmt.Errorf("resolve send window: %w", err)
	}
	base := s.now()
	var at time.Time
	if immediate {
		at = win.Snap(base)
	} else {
		at = win.Snap(base.Add(next.Delay.Duration()))
	}

	if err := s.repo.SetProgress(ctx, e.ID, current, &at); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, e.ID, next.ID, at, 0); err != nil {
		return fmt.Errorf("enqueue step %d: %w", next.StepOrder, err)
	}
	logger.Debug("enrollment advanced",
		"enrollment_id", e.ID, "current_step", current,
		"next_step", next.StepOrder, "next_at", at.Format(time.RFC3339))
	return nil
}

// MarkReplied transitions a live enrollment to replied and cancels its
// pending queue items. Driven by the inbound reply webhook.
func (s *Service) MarkReplied(ctx context.Context, enrollmentID string) error {
	return s.terminate(ctx, enrollmentID, domain.EnrollmentReplied, "")
}

// MarkBounced transitions a live enrollment to bounced and cancels its
// pending queue items. Driven by the bounce webhook.
func (s *Service) MarkBounced(ctx context.Context, enrollmentID string) error {
	return s.terminate(ctx, enrollmentID, domain.EnrollmentBounced, "")
}

// Stop terminates an enrollment at the principal's request.
func (s *Service) Stop(ctx context.Context, principalID, id, reason string) error {
	if _, err := s.repo.Get(ctx, principalID, id); err != nil {
		return err
	}
	if reason == "" {
		reason = "manual"
	}
	return s.terminate(ctx, id, domain.EnrollmentStopped, reason)
}

// Pause suspends an active enrollment and cancels its pending queue items.
func (s *Service) Pause(ctx context.Context, principalID, id string) error {
	if _, err := s.repo.Get(ctx, principalID, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id,
		[]domain.EnrollmentStatus{domain.EnrollmentActive},
		domain.EnrollmentPaused, ""); err != nil {
		return err
	}
	if _, err := s.queue.CancelForEnrollment(ctx, id); err != nil {
		return err
	}
	logger.Info("enrollment paused", "enrollment_id", id)
	return nil
}

// Resume reactivates a paused enrollment, recomputing the next due time
// from now and queueing the next step.
func (s *Service) Resume(ctx context.Context, principalID, id string) error {
	e, err := s.repo.Get(ctx, principalID, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id,
		[]domain.EnrollmentStatus{domain.EnrollmentPaused},
		domain.EnrollmentActive, ""); err != nil {
		return err
	}

	seq, err := s.seqs.Get(ctx, principalID, e.SequenceID)
	if err != nil {
		return err
	}
	steps, err := s.seqs.Steps(ctx, e.SequenceID)
	if err != nil {
		return err
	}
	next := nextActiveStep(steps, e.CurrentStep)
	if next == nil {
		if err := s.repo.SetProgress(ctx, id, e.CurrentStep, nil); err != nil {
			return err
		}
		return s.repo.UpdateStatus(ctx, id,
			[]domain.EnrollmentStatus{domain.EnrollmentActive},
			domain.EnrollmentCompleted, "")
	}

	win, err := calendar.Resolve(seq.Settings)
	if err != nil {
		return fmt.Errorf("resolve send window: %w", err)
	}
	at := win.Snap(s.now().Add(next.Delay.Duration()))
	if err := s.repo.SetProgress(ctx, id, e.CurrentStep, &at); err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, id, next.ID, at, 0); err != nil {
		return fmt.Errorf("enqueue step %d: %w", next.StepOrder, err)
	}
	logger.Info("enrollment resumed", "enrollment_id", id, "next_at", at.Format(time.RFC3339))
	return nil
}

// StopAllForSequence terminates every live enrollment of a sequence.
// Used when the sequence is archived. Returns the number stopped.
func (s *Service) StopAllForSequence(ctx context.Context, sequenceID, reason string) (int, error) {
	ids, err := s.repo.NonTerminalIDsForSequence(ctx, sequenceID)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, id := range ids {
		err := s.repo.UpdateStatus(ctx, id,
			[]domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused},
			domain.EnrollmentStopped, reason)
		if err != nil {
			if err == ErrInvalidTransition {
				continue // raced to terminal, fine
			}
			return stopped, err
		}
		stopped++
	}
	if _, err := s.queue.CancelForSequence(ctx, sequenceID); err != nil {
		return stopped, err
	}
	logger.Info("sequence enrollments stopped",
		"sequence_id", sequenceID, "count", stopped, "reason", reason)
	return stopped, nil
}

// EvaluateStep resolves a condition step against the referenced action.
// Exposed for the executor.
func (s *Service) EvaluateStep(ctx context.Context, e *domain.Enrollment, step *domain.Step, grace time.Duration) (bool, error) {
	ref, err := s.actions.GetForStep(ctx, e.ID, step.ConditionStepID)
	if err != nil {
		return false, err
	}
	return Evaluate(step.ConditionType, ref, grace, s.now()), nil
}

func (s *Service) terminate(ctx context.Context, id string, to domain.EnrollmentStatus, reason string) error {
	err := s.repo.UpdateStatus(ctx, id,
		[]domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused},
		to, reason)
	if err != nil {
		return err
	}
	if _, err := s.queue.CancelForEnrollment(ctx, id); err != nil {
		return err
	}
	logger.Info("enrollment terminated",
		"enrollment_id", id, "status", string(to), "reason", reason)
	return nil
}

// nextActiveStep returns the first active step with order > after, or nil.
func nextActiveStep(steps []domain.Step, after int) *domain.Step {
	var best *domain.Step
	for i := range steps {
		st := &steps[i]
		if !st.Active || st.StepOrder <= after {
			continue
		}
		if best == nil || st.StepOrder < best.StepOrder {
			best = st
		}
	}
	return best
}
