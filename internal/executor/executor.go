// Package executor turns a claimed queue item into a dispatched action:
// template rendering, tracking injection, account selection, rate limiting,
// and delivery through the channel adapter for the step's type.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/enrollment"
	"github.com/leadflowhq/outreach/internal/metrics"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/ratelimit"
	"github.com/leadflowhq/outreach/internal/template"
)

// ErrNoSendingAccount means the principal has no active verified account
// for the step's channel. Not retryable by waiting.
var ErrNoSendingAccount = errors.New("no active sending account for channel")

// pendingReuseGrace separates a crashed worker's leftovers from a live
// dispatch. A pending action younger than this is in flight on another
// worker, so a competing Execute backs off instead of double-sending;
// anything older is only reachable after its queue lease expired.
const pendingReuseGrace = 2 * time.Minute

// Outcome classifies an Execute call for the scheduler.
type Outcome string

const (
	// OutcomeSent: the action was dispatched (or had already been).
	OutcomeSent Outcome = "sent"
	// OutcomeNoop: nothing to deliver (wait steps).
	OutcomeNoop Outcome = "noop"
	// OutcomeManual: handed to an out-of-process delivery agent.
	OutcomeManual Outcome = "pending_manual"
	// OutcomeCondition: a condition step was evaluated; see ConditionResult.
	OutcomeCondition Outcome = "condition"
	// OutcomeDeferred: every candidate account is at its cap; retry at RetryAt.
	OutcomeDeferred Outcome = "deferred"
)

// Result reports what Execute did.
type Result struct {
	Outcome         Outcome
	ConditionResult bool
	// RetryAt is set for OutcomeDeferred.
	RetryAt time.Time
	// Transient marks a failed dispatch as retryable.
	Transient bool
}

// ActionStore is the action persistence the executor needs.
type ActionStore interface {
	// GetForStep returns the non-skipped action for (enrollment, step),
	// or nil when none exists.
	GetForStep(ctx context.Context, enrollmentID, stepID string) (*domain.Action, error)
	Create(ctx context.Context, a *domain.Action) error
	MarkSent(ctx context.Context, actionID string, at time.Time, platformResponse json.RawMessage) error
	MarkFailed(ctx context.Context, actionID string, at time.Time, errMsg string) error
}

// AccountSource lists dispatch-ready accounts for a principal and channel.
type AccountSource interface {
	ActiveForPrincipal(ctx context.Context, principalID string, channel domain.StepType) ([]domain.SendingAccount, error)
}

// RateLimiter is the slice of ratelimit.Limiter the executor drives.
type RateLimiter interface {
	Reserve(ctx context.Context, accountID string) (ratelimit.Decision, error)
	RecordSuccess(ctx context.Context, accountID string) error
	RecordFailure(ctx context.Context, accountID, errMsg string) (bool, error)
}

// Tracker injects open and click tracking into rendered HTML.
type Tracker interface {
	Inject(html, trackingID string) string
}

// Sender delivers one message through a concrete transport.
type Sender interface {
	Send(ctx context.Context, account *domain.SendingAccount, msg *domain.OutboundMessage) domain.DispatchResult
}

// Executor dispatches steps. Safe for concurrent use by multiple workers;
// all shared state lives behind the injected stores.
type Executor struct {
	actions   ActionStore
	accounts  AccountSource
	limiter   RateLimiter
	templates *template.Engine
	tracker   Tracker
	senders   map[domain.TransportType]Sender

	now func() time.Time
}

func New(actions ActionStore, accounts AccountSource, limiter RateLimiter, templates *template.Engine, tracker Tracker, senders map[domain.TransportType]Sender) *Executor {
	return &Executor{
		actions:   actions,
		accounts:  accounts,
		limiter:   limiter,
		templates: templates,
		tracker:   tracker,
		senders:   senders,
		now:       time.Now,
	}
}

// Execute dispatches one step for one enrollment. Duplicate invocations for
// an already-sent (enrollment, step) pair short-circuit with success, which
// makes crash-recovery replays safe.
func (x *Executor) Execute(ctx context.Context, e *domain.Enrollment, step *domain.Step, settings domain.SequenceSettings) (*Result, error) {
	existing, err := x.actions.GetForStep(ctx, e.ID, step.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == domain.ActionSent {
		logger.Debug("duplicate dispatch short-circuited",
			"enrollment_id", e.ID, "step_id", step.ID, "action_id", existing.ID)
		if step.Type == domain.StepCondition {
			return x.replayCondition(existing)
		}
		return &Result{Outcome: OutcomeSent}, nil
	}
	if existing != nil && existing.Status == domain.ActionPending && step.Type.IsManualChannel() {
		return &Result{Outcome: OutcomeManual}, nil
	}

	switch {
	case step.Type == domain.StepWait:
		return x.executeWait(ctx, e, step, existing)
	case step.Type == domain.StepCondition:
		return x.executeCondition(ctx, e, step, settings, existing)
	case step.Type.IsManualChannel():
		return x.executeManual(ctx, e, step)
	case step.Type == domain.StepEmail:
		return x.executeEmail(ctx, e, step, existing)
	}
	return nil, fmt.Errorf("unsupported step type %q", step.Type)
}

func (x *Executor) executeWait(ctx context.Context, e *domain.Enrollment, step *domain.Step, existing *domain.Action) (*Result, error) {
	action := existing
	if action == nil {
		action = x.newAction(e, step)
		if err := x.actions.Create(ctx, action); err != nil {
			return nil, err
		}
	}
	if err := x.actions.MarkSent(ctx, action.ID, x.now(), nil); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeNoop}, nil
}

func (x *Executor) executeCondition(ctx context.Context, e *domain.Enrollment, step *domain.Step, settings domain.SequenceSettings, existing *domain.Action) (*Result, error) {
	ref, err := x.actions.GetForStep(ctx, e.ID, step.ConditionStepID)
	if err != nil {
		return nil, err
	}
	grace := time.Duration(settings.ReplyGraceMins) * time.Minute
	holds := enrollment.Evaluate(step.ConditionType, ref, grace, x.now())

	action := existing
	if action == nil {
		action = x.newAction(e, step)
		if err := x.actions.Create(ctx, action); err != nil {
			return nil, err
		}
	}
	resp, _ := json.Marshal(map[string]bool{"result": holds})
	if err := x.actions.MarkSent(ctx, action.ID, x.now(), resp); err != nil {
		return nil, err
	}
	logger.Debug("condition evaluated",
		"enrollment_id", e.ID, "step_id", step.ID,
		"condition", string(step.ConditionType), "result", holds)
	return &Result{Outcome: OutcomeCondition, ConditionResult: holds}, nil
}

func (x *Executor) executeManual(ctx context.Context, e *domain.Enrollment, step *domain.Step) (*Result, error) {
	subject, content, err := x.render(e, step)
	if err != nil {
		return nil, err
	}
	action := x.newAction(e, step)
	action.SentSubject = subject
	action.SentContent = content
	// The delivery agent acknowledges by tracking id once the message is out.
	action.TrackingID = uuid.New().String()
	if err := x.actions.Create(ctx, action); err != nil {
		return nil, err
	}
	logger.Info("action queued for delivery agent",
		"enrollment_id", e.ID, "step_id", step.ID, "channel", string(step.Type))
	return &Result{Outcome: OutcomeManual}, nil
}

func (x *Executor) executeEmail(ctx context.Context, e *domain.Enrollment, step *domain.Step, existing *domain.Action) (*Result, error) {
	if existing != nil && existing.Status == domain.ActionPending {
		if age := x.now().Sub(existing.ScheduledAt); age < pendingReuseGrace {
			return &Result{Outcome: OutcomeDeferred, RetryAt: existing.ScheduledAt.Add(pendingReuseGrace)}, nil
		}
	}

	accounts, err := x.accounts.ActiveForPrincipal(ctx, e.PrincipalID, domain.StepEmail)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoSendingAccount
	}

	account, retryAt, err := x.reserveAccount(ctx, accounts)
	if err != nil {
		return nil, err
	}
	if account == nil {
		metrics.RateLimitDeferred.Inc()
		return &Result{Outcome: OutcomeDeferred, RetryAt: retryAt}, nil
	}

	subject, content, err := x.render(e, step)
	if err != nil {
		return nil, err
	}

	// Reuse a pending action left behind by a crashed worker so the
	// one-action-per-step invariant holds.
	action := existing
	if action == nil {
		action = x.newAction(e, step)
		action.TrackingID = uuid.New().String()
		action.SentSubject = subject
		action.SentContent = content
		if err := x.actions.Create(ctx, action); err != nil {
			return nil, err
		}
	}

	msg := &domain.OutboundMessage{
		To:          e.Contact.Email,
		ToName:      e.Contact.Name,
		Subject:     subject,
		ContentText: htmlToText(content),
		ContentHTML: x.tracker.Inject(asHTML(content), action.TrackingID),
		TrackingID:  action.TrackingID,
	}

	sender, ok := x.senders[account.Transport]
	if !ok {
		return nil, fmt.Errorf("no sender for transport %q", account.Transport)
	}

	start := x.now()
	res := sender.Send(ctx, account, msg)
	metrics.DispatchDuration.WithLabelValues(string(domain.StepEmail)).Observe(time.Since(start).Seconds())

	if !res.OK {
		disabled, lerr := x.limiter.RecordFailure(ctx, account.ID, res.Error)
		if lerr != nil {
			logger.Error("record dispatch failure", "account_id", account.ID, "error", lerr.Error())
		}
		if disabled {
			metrics.AccountsDisabled.Inc()
			logger.Warn("sending account auto-disabled",
				"account_id", account.ID, "last_error", res.Error)
		}
		if err := x.actions.MarkFailed(ctx, action.ID, x.now(), res.Error); err != nil {
			return nil, err
		}
		metrics.ActionsFailed.WithLabelValues(string(domain.StepEmail)).Inc()
		return &Result{Transient: res.Transient}, fmt.Errorf("dispatch via %s: %s", account.FromEmail, res.Error)
	}

	if err := x.limiter.RecordSuccess(ctx, account.ID); err != nil {
		logger.Error("record dispatch success", "account_id", account.ID, "error", err.Error())
	}
	resp, _ := json.Marshal(map[string]string{"message_id": res.MessageID})
	if err := x.actions.MarkSent(ctx, action.ID, res.SentAt, resp); err != nil {
		return nil, err
	}
	metrics.ActionsSent.WithLabelValues(string(domain.StepEmail)).Inc()
	logger.Info("email dispatched",
		"enrollment_id", e.ID, "step_id", step.ID,
		"account_id", account.ID, "to", e.Contact.Email, "message_id", res.MessageID)
	return &Result{Outcome: OutcomeSent}, nil
}

// reserveAccount walks the principal's accounts in order and reserves a send
// slot on the first one under its caps. When every account is capped it
// returns the earliest instant any of them reopens.
func (x *Executor) reserveAccount(ctx context.Context, accounts []domain.SendingAccount) (*domain.SendingAccount, time.Time, error) {
	var earliest time.Time
	for i := range accounts {
		a := &accounts[i]
		if !a.Verified {
			continue
		}
		d, err := x.limiter.Reserve(ctx, a.ID)
		if err != nil {
			if errors.Is(err, ratelimit.ErrAccountDisabled) {
				continue
			}
			return nil, time.Time{}, err
		}
		if d.Allowed {
			return a, time.Time{}, nil
		}
		if earliest.IsZero() || d.RetryAt.Before(earliest) {
			earliest = d.RetryAt
		}
	}
	if earliest.IsZero() {
		return nil, time.Time{}, ErrNoSendingAccount
	}
	return nil, earliest, nil
}

func (x *Executor) render(e *domain.Enrollment, step *domain.Step) (subject, content string, err error) {
	subjectTpl, contentTpl := step.Subject, step.Content
	if e.ABVariant == domain.VariantB && (step.SubjectB != "" || step.ContentB != "") {
		if step.SubjectB != "" {
			subjectTpl = step.SubjectB
		}
		if step.ContentB != "" {
			contentTpl = step.ContentB
		}
	}

	vars := make(map[string]interface{}, len(e.Variables)+2)
	for k, v := range e.Variables {
		vars[k] = v
	}
	vars["contact_name"] = e.Contact.Name
	vars["contact_email"] = e.Contact.Email

	variant := string(e.ABVariant)
	subject, err = x.templates.Render(step.ID+":subject:"+variant, subjectTpl, vars)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	content, err = x.templates.Render(step.ID+":content:"+variant, contentTpl, vars)
	if err != nil {
		return "", "", fmt.Errorf("render content: %w", err)
	}
	return subject, content, nil
}

func (x *Executor) replayCondition(a *domain.Action) (*Result, error) {
	var payload struct {
		Result bool `json:"result"`
	}
	if len(a.PlatformResponse) > 0 {
		if err := json.Unmarshal(a.PlatformResponse, &payload); err != nil {
			return nil, fmt.Errorf("decode stored condition result: %w", err)
		}
	}
	return &Result{Outcome: OutcomeCondition, ConditionResult: payload.Result}, nil
}

func (x *Executor) newAction(e *domain.Enrollment, step *domain.Step) *domain.Action {
	return &domain.Action{
		ID:           uuid.New().String(),
		EnrollmentID: e.ID,
		StepID:       step.ID,
		Type:         step.Type,
		Status:       domain.ActionPending,
		ScheduledAt:  x.now(),
	}
}
