package sequence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/calendar"
	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/template"
)

// Stopper terminates enrollments when their sequence is archived.
// Implemented by the enrollment service.
type Stopper interface {
	StopAllForSequence(ctx context.Context, sequenceID, reason string) (int, error)
}

// Service implements sequence business logic.
type Service struct {
	repo      Repository
	templates *template.Engine
	stopper   Stopper
}

// NewService creates a sequence service. stopper may be nil when archive
// side effects are handled elsewhere (tests).
func NewService(repo Repository, templates *template.Engine, stopper Stopper) *Service {
	return &Service{repo: repo, templates: templates, stopper: stopper}
}

// Get returns a single sequence.
func (s *Service) Get(ctx context.Context, principalID, id string) (*domain.Sequence, error) {
	return s.repo.Get(ctx, principalID, id)
}

// List returns the principal's sequences.
func (s *Service) List(ctx context.Context, principalID string, limit, offset int) ([]domain.Sequence, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, principalID, limit, offset)
}

// Steps returns a sequence's steps in order.
func (s *Service) Steps(ctx context.Context, principalID, sequenceID string) ([]domain.Step, error) {
	if _, err := s.repo.Get(ctx, principalID, sequenceID); err != nil {
		return nil, err
	}
	return s.repo.Steps(ctx, sequenceID)
}

// Create validates settings and persists a new sequence in draft status.
func (s *Service) Create(ctx context.Context, principalID, name string, settings domain.SequenceSettings) (*domain.Sequence, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if settings.Timezone == "" {
		settings = domain.DefaultSettings("UTC")
	}
	if _, err := calendar.Resolve(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	seq := &domain.Sequence{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		Name:        name,
		Status:      domain.SequenceDraft,
		Settings:    settings,
	}
	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, err
	}
	logger.Info("sequence created", "sequence_id", seq.ID, "principal_id", principalID)
	return seq, nil
}

// AddStep validates and appends a step. The step must extend the sequence
// contiguously and condition steps may only reference earlier steps.
// Returned warnings flag template variables that are not among the
// builtin merge fields; they are advisory.
func (s *Service) AddStep(ctx context.Context, principalID string, st *domain.Step) ([]template.Warning, error) {
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	if _, err := s.repo.Get(ctx, principalID, st.SequenceID); err != nil {
		return nil, err
	}

	existing, err := s.repo.Steps(ctx, st.SequenceID)
	if err != nil {
		return nil, err
	}
	if st.StepOrder != len(existing)+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadStepOrder, st.StepOrder, len(existing)+1)
	}
	if st.Type == domain.StepCondition {
		ref := findStep(existing, st.ConditionStepID)
		if ref == nil || ref.StepOrder >= st.StepOrder {
			return nil, ErrForwardConditionRef
		}
		if ref.Type == domain.StepWait || ref.Type == domain.StepCondition {
			return nil, fmt.Errorf("%w: referenced step has no dispatch outcome", ErrForwardConditionRef)
		}
	}

	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	st.Active = true

	var warnings []template.Warning
	if s.templates != nil {
		known := builtinVars()
		warnings = append(warnings, s.templates.Validate(st.Subject, known)...)
		warnings = append(warnings, s.templates.Validate(st.Content, known)...)
	}

	if err := s.repo.CreateStep(ctx, st); err != nil {
		return nil, err
	}
	logger.Info("step added", "sequence_id", st.SequenceID, "step_id", st.ID,
		"step_order", st.StepOrder, "step_type", string(st.Type))
	return warnings, nil
}

// Activate moves a draft or paused sequence to active.
func (s *Service) Activate(ctx context.Context, principalID, id string) error {
	err := s.repo.UpdateStatus(ctx, principalID, id,
		[]domain.SequenceStatus{domain.SequenceDraft, domain.SequencePaused},
		domain.SequenceActive)
	if err != nil {
		return err
	}
	logger.Info("sequence activated", "sequence_id", id)
	return nil
}

// Pause moves an active sequence to paused. Active enrollments keep their
// state but the scheduler will not advance them while the sequence is paused.
func (s *Service) Pause(ctx context.Context, principalID, id string) error {
	err := s.repo.UpdateStatus(ctx, principalID, id,
		[]domain.SequenceStatus{domain.SequenceActive},
		domain.SequencePaused)
	if err != nil {
		return err
	}
	logger.Info("sequence paused", "sequence_id", id)
	return nil
}

// Archive retires a sequence from any state and stops all of its
// non-terminal enrollments with reason "sequence_archived".
func (s *Service) Archive(ctx context.Context, principalID, id string) error {
	err := s.repo.UpdateStatus(ctx, principalID, id,
		[]domain.SequenceStatus{domain.SequenceDraft, domain.SequenceActive, domain.SequencePaused},
		domain.SequenceArchived)
	if err != nil {
		return err
	}

	if s.stopper != nil {
		n, err := s.stopper.StopAllForSequence(ctx, id, "sequence_archived")
		if err != nil {
			return fmt.Errorf("stop enrollments for archived sequence: %w", err)
		}
		logger.Info("sequence archived", "sequence_id", id, "stopped_enrollments", n)
		return nil
	}
	logger.Info("sequence archived", "sequence_id", id)
	return nil
}

// Stats returns daily rollups for the sequence.
func (s *Service) Stats(ctx context.Context, principalID, id string, days int) ([]DailyStat, error) {
	if days <= 0 || days > 90 {
		days = 30
	}
	if _, err := s.repo.Get(ctx, principalID, id); err != nil {
		return nil, err
	}
	return s.repo.DailyStats(ctx, principalID, id, days)
}

func findStep(steps []domain.Step, id string) *domain.Step {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

// builtinVars are the merge fields every enrollment carries regardless of
// the caller-supplied variable map.
func builtinVars() map[string]bool {
	return map[string]bool{
		"contact_name":  true,
		"contact_email": true,
	}
}
