package domain

import (
	"fmt"
	"time"
)

// SequenceStatus enumerates the lifecycle states of a sequence.
type SequenceStatus string

const (
	SequenceDraft    SequenceStatus = "draft"
	SequenceActive   SequenceStatus = "active"
	SequencePaused   SequenceStatus = "paused"
	SequenceArchived SequenceStatus = "archived"
)

// SequenceSettings controls the send window and per-account caps for a
// sequence. Weekdays use time.Weekday numbering (Sunday = 0).
type SequenceSettings struct {
	Timezone       string         `json:"timezone"`
	SendHourStart  int            `json:"send_hour_start"`
	SendHourEnd    int            `json:"send_hour_end"`
	SendWeekdays   []time.Weekday `json:"send_weekdays"`
	HourlyCap      int            `json:"hourly_cap"`
	DailyCap       int            `json:"daily_cap"`
	ReplyGraceMins int            `json:"reply_grace_mins"`
}

// DefaultSettings returns the stock Mon-Fri 09:00-18:00 send window.
func DefaultSettings(timezone string) SequenceSettings {
	if timezone == "" {
		timezone = "UTC"
	}
	return SequenceSettings{
		Timezone:      timezone,
		SendHourStart: 9,
		SendHourEnd:   18,
		SendWeekdays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
	}
}

// Sequence is a named, ordered template of outreach steps owned by a principal.
type Sequence struct {
	ID          string           `json:"id" db:"id"`
	PrincipalID string           `json:"principal_id" db:"principal_id"`
	Name        string           `json:"name" db:"name"`
	Status      SequenceStatus   `json:"status" db:"status"`
	Settings    SequenceSettings `json:"settings" db:"settings"`

	// Aggregate counters (eventually consistent, populated by queries)
	ActiveCount    int `json:"active_count" db:"active_count"`
	CompletedCount int `json:"completed_count" db:"completed_count"`
	RepliedCount   int `json:"replied_count" db:"replied_count"`
	BouncedCount   int `json:"bounced_count" db:"bounced_count"`
	StoppedCount   int `json:"stopped_count" db:"stopped_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CanTransitionTo reports whether the status change is a legal lifecycle move.
// draft→active, active↔paused, anything→archived.
func (s *Sequence) CanTransitionTo(next SequenceStatus) bool {
	if next == SequenceArchived {
		return s.Status != SequenceArchived
	}
	switch s.Status {
	case SequenceDraft:
		return next == SequenceActive
	case SequenceActive:
		return next == SequencePaused
	case SequencePaused:
		return next == SequenceActive
	}
	return false
}

// StepType identifies the channel or control behavior of a step.
type StepType string

const (
	StepEmail           StepType = "email"
	StepLinkedInConnect StepType = "linkedin_connect"
	StepLinkedInDM      StepType = "linkedin_dm"
	StepLinkedInInMail  StepType = "linkedin_inmail"
	StepWhatsApp        StepType = "whatsapp"
	StepSMS             StepType = "sms"
	StepWait            StepType = "wait"
	StepCondition       StepType = "condition"
)

// IsManualChannel reports whether delivery happens through an out-of-process
// agent (browser extension or external API) rather than a direct adapter.
func (t StepType) IsManualChannel() bool {
	switch t {
	case StepLinkedInConnect, StepLinkedInDM, StepLinkedInInMail, StepWhatsApp, StepSMS:
		return true
	}
	return false
}

// ConditionType enumerates the outcomes a condition step can inspect.
type ConditionType string

const (
	CondIfNoReply ConditionType = "if_no_reply"
	CondIfOpened  ConditionType = "if_opened"
	CondIfClicked ConditionType = "if_clicked"
	CondIfReplied ConditionType = "if_replied"
)

// StepDelay is the wait relative to the previous step's completion.
type StepDelay struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Duration converts the delay to a time.Duration.
func (d StepDelay) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// Step is a single action definition within a sequence.
type Step struct {
	ID         string    `json:"id" db:"id"`
	SequenceID string    `json:"sequence_id" db:"sequence_id"`
	StepOrder  int       `json:"step_order" db:"step_order"`
	Type       StepType  `json:"type" db:"step_type"`
	Delay      StepDelay `json:"delay"`
	Subject    string    `json:"subject" db:"subject"`
	Content    string    `json:"content" db:"content"`

	// B-variant content; rendered for enrollments assigned variant B.
	SubjectB string `json:"subject_b,omitempty" db:"subject_b"`
	ContentB string `json:"content_b,omitempty" db:"content_b"`

	// Condition steps only.
	ConditionType   ConditionType `json:"condition_type,omitempty" db:"condition_type"`
	ConditionStepID string        `json:"condition_step_id,omitempty" db:"condition_step_id"`

	// Channel-specific knobs, persisted as opaque JSON.
	PlatformSettings map[string]interface{} `json:"platform_settings,omitempty"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the intrinsic shape of a step. Cross-step rules
// (order contiguity, backward condition refs) live in the sequence service.
func (s *Step) Validate() error {
	switch s.Type {
	case StepEmail, StepLinkedInConnect, StepLinkedInDM, StepLinkedInInMail,
		StepWhatsApp, StepSMS, StepWait, StepCondition:
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	if s.StepOrder < 1 {
		return fmt.Errorf("step_order must be >= 1, got %d", s.StepOrder)
	}
	if s.Delay.Days < 0 || s.Delay.Hours < 0 || s.Delay.Minutes < 0 {
		return fmt.Errorf("negative delay")
	}
	if s.Type == StepCondition {
		switch s.ConditionType {
		case CondIfNoReply, CondIfOpened, CondIfClicked, CondIfReplied:
		default:
			return fmt.Errorf("condition step requires a condition_type")
		}
		if s.ConditionStepID == "" {
			return fmt.Errorf("condition step requires condition_step_id")
		}
	}
	if s.Type == StepEmail && s.Subject == "" {
		return fmt.Errorf("email step requires a subject")
	}
	return nil
}
