package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/sequence"
	"github.com/leadflowhq/outreach/internal/template"
	"github.com/leadflowhq/outreach/internal/tracking"
)

// SequenceService is the sequence surface the handlers call.
// Satisfied by sequence.Service.
type SequenceService interface {
	Create(ctx context.Context, principalID, name string, settings domain.SequenceSettings) (*domain.Sequence, error)
	Get(ctx context.Context, principalID, id string) (*domain.Sequence, error)
	List(ctx context.Context, principalID string, limit, offset int) ([]domain.Sequence, error)
	Steps(ctx context.Context, principalID, sequenceID string) ([]domain.Step, error)
	AddStep(ctx context.Context, principalID string, st *domain.Step) ([]template.Warning, error)
	Activate(ctx context.Context, principalID, id string) error
	Pause(ctx context.Context, principalID, id string) error
	Archive(ctx context.Context, principalID, id string) error
	Stats(ctx context.Context, principalID, id string, days int) ([]sequence.DailyStat, error)
}

// EnrollmentService is the enrollment surface the handlers call.
// Satisfied by enrollment.Service.
type EnrollmentService interface {
	Enroll(ctx context.Context, principalID, sequenceID string, contact domain.Contact, vars map[string]string) (*domain.Enrollment, error)
	Get(ctx context.Context, principalID, id string) (*domain.Enrollment, error)
	List(ctx context.Context, principalID, sequenceID string, limit, offset int) ([]domain.Enrollment, error)
	Pause(ctx context.Context, principalID, id string) error
	Resume(ctx context.Context, principalID, id string) error
	Stop(ctx context.Context, principalID, id, reason string) error
	MarkReplied(ctx context.Context, enrollmentID string) error
	MarkBounced(ctx context.Context, enrollmentID string) error
}

// TrackingService resolves tracking URLs and webhook signals.
// Satisfied by tracking.Service.
type TrackingService interface {
	RecordOpen(ctx context.Context, token, sig string, meta tracking.Meta) error
	RecordClick(ctx context.Context, token, sig string, meta tracking.Meta) (string, error)
	RecordReply(ctx context.Context, trackingID string, meta tracking.Meta) error
	RecordBounce(ctx context.Context, trackingID string, hard bool, meta tracking.Meta) error
}

// AccountStore manages sending accounts. Satisfied by postgres.AccountRepo.
type AccountStore interface {
	List(ctx context.Context, principalID string) ([]domain.SendingAccount, error)
	Get(ctx context.Context, principalID, id string) (*domain.SendingAccount, error)
	Create(ctx context.Context, a *domain.SendingAccount) error
	Enable(ctx context.Context, principalID, id string) error
}

// ActionAcker closes the loop on out-of-process deliveries: the browser
// extension or channel API calls back once a manual action actually went out.
// Satisfied by postgres.ActionRepo.
type ActionAcker interface {
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Action, error)
	MarkSent(ctx context.Context, actionID string, at time.Time, platformResponse json.RawMessage) error
}

// HealthReporter exposes scheduler counters on the health endpoint.
type HealthReporter interface {
	Stats() map[string]int64
}

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	Sequences   SequenceService
	Enrollments EnrollmentService
	Tracking    TrackingService
	Accounts    AccountStore
	Actions     ActionAcker
	Health      HealthReporter
}
