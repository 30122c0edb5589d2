package domain

import "time"

// TransportType identifies how an email account dispatches mail.
type TransportType string

const (
	TransportSMTP TransportType = "smtp"
	TransportSES  TransportType = "ses"
)

// SendingAccount is a credential-bearing channel endpoint with per-hour and
// per-day send caps. Accounts are scoped to a principal and shared across
// that principal's sequences.
type SendingAccount struct {
	ID          string        `json:"id" db:"id"`
	PrincipalID string        `json:"principal_id" db:"principal_id"`
	Channel     StepType      `json:"channel" db:"channel"`
	Transport   TransportType `json:"transport" db:"transport"`

	FromName  string `json:"from_name" db:"from_name"`
	FromEmail string `json:"from_email" db:"from_email"`

	SMTPHost string `json:"smtp_host" db:"smtp_host"`
	SMTPPort int    `json:"smtp_port" db:"smtp_port"`
	SMTPUser string `json:"-" db:"smtp_username"`
	SMTPPass string `json:"-" db:"smtp_password"`

	// SES API credentials (transport = "ses").
	AWSRegion    string `json:"aws_region,omitempty" db:"aws_region"`
	AWSAccessKey string `json:"-" db:"aws_access_key"`
	AWSSecretKey string `json:"-" db:"aws_secret_key"`

	Active   bool `json:"active" db:"active"`
	Verified bool `json:"verified" db:"verified"`

	HourlyCap      int       `json:"hourly_cap" db:"hourly_cap"`
	DailyCap       int       `json:"daily_cap" db:"daily_cap"`
	SentThisHour   int       `json:"sent_this_hour" db:"sent_this_hour"`
	SentToday      int       `json:"sent_today" db:"sent_today"`
	LastResetHour  time.Time `json:"last_reset_hourly" db:"last_reset_hourly"`
	LastResetDaily time.Time `json:"last_reset_daily" db:"last_reset_daily"`

	ConsecutiveErrors int    `json:"consecutive_errors" db:"consecutive_errors"`
	LastError         string `json:"last_error,omitempty" db:"last_error"`
}

// OutboundMessage is the fully-resolved message handed to a channel adapter.
// By the time a message reaches this struct, all template substitution and
// tracking injection is complete.
type OutboundMessage struct {
	To          string            `json:"to"`
	ToName      string            `json:"to_name"`
	Subject     string            `json:"subject"`
	ContentText string            `json:"content_text"`
	ContentHTML string            `json:"content_html"`
	TrackingID  string            `json:"tracking_id"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// DispatchResult is returned by a channel adapter after attempting delivery.
type DispatchResult struct {
	OK        bool      `json:"ok"`
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`

	// Transient marks errors eligible for the queue's retry policy
	// (timeouts, SMTP 4xx, adapter throttling).
	Transient bool `json:"transient,omitempty"`
}
