// Package tracking signs and resolves the open-pixel and click-redirect
// URLs embedded in outbound email, and turns inbound webhook signals
// (replies, bounces) into enrollment transitions. Outcome flags on actions
// are first-observation-wins: repeated opens of the same message update
// nothing after the first.
package tracking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
)

// EventType classifies a tracking event row.
type EventType string

const (
	EventOpen   EventType = "open"
	EventClick  EventType = "click"
	EventReply  EventType = "reply"
	EventBounce EventType = "bounce"
)

// Event is one observed engagement signal, kept as an append-only log next
// to the first-observation flags on the action row.
type Event struct {
	ID           string    `json:"id" db:"id"`
	ActionID     string    `json:"action_id" db:"action_id"`
	EnrollmentID string    `json:"enrollment_id" db:"enrollment_id"`
	Type         EventType `json:"event_type" db:"event_type"`
	LinkURL      string    `json:"link_url,omitempty" db:"link_url"`
	IPAddress    string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string    `json:"user_agent,omitempty" db:"user_agent"`
	EventAt      time.Time `json:"event_at" db:"event_at"`
}

// Meta carries request attributes for the event log.
type Meta struct {
	IPAddress string
	UserAgent string
}

// ActionOutcomes is the slice of the action store the tracker writes.
// The Mark methods return false when the flag was already set.
type ActionOutcomes interface {
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Action, error)
	MarkOpened(ctx context.Context, actionID string, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, actionID string, at time.Time) (bool, error)
	MarkReplied(ctx context.Context, actionID string, at time.Time) (bool, error)
	MarkBounced(ctx context.Context, actionID string, at time.Time) (bool, error)
}

// EventStore appends tracking events.
type EventStore interface {
	RecordEvent(ctx context.Context, ev *Event) error
}

// EnrollmentMarker applies the terminal transitions replies and hard
// bounces trigger. Satisfied by the enrollment service.
type EnrollmentMarker interface {
	MarkReplied(ctx context.Context, enrollmentID string) error
	MarkBounced(ctx context.Context, enrollmentID string) error
}

// Service generates signed tracking URLs and resolves them back.
type Service struct {
	actions     ActionOutcomes
	events      EventStore
	enrollments EnrollmentMarker
	signingKey  []byte
	baseURL     string
}

func NewService(actions ActionOutcomes, events EventStore, enrollments EnrollmentMarker, signingKey, baseURL string) *Service {
	return &Service{
		actions:     actions,
		events:      events,
		enrollments: enrollments,
		signingKey:  []byte(signingKey),
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// PixelURL returns the signed 1x1 image URL for an action's tracking id.
func (s *Service) PixelURL(trackingID string) string {
	token := base64.URLEncoding.EncodeToString([]byte(trackingID))
	return fmt.Sprintf("%s/track/open/%s/%s", s.baseURL, token, s.sign(trackingID))
}

// ClickURL returns a signed redirect URL wrapping originalURL.
func (s *Service) ClickURL(trackingID, originalURL string) string {
	data := trackingID + "|" + originalURL
	token := base64.URLEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf("%s/track/click/%s/%s", s.baseURL, token, s.sign(data))
}

// Inject adds the open pixel and rewrites href links to tracked redirects.
// The pixel goes before </body> when present, otherwise it is appended.
func (s *Service) Inject(html, trackingID string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt="" />`, s.PixelURL(trackingID))
	if strings.Contains(html, "</body>") {
		html = strings.Replace(html, "</body>", pixel+"</body>", 1)
	} else {
		html += pixel
	}
	return s.rewriteLinks(html, trackingID)
}

func (s *Service) rewriteLinks(html, trackingID string) string {
	var b strings.Builder
	rest := html
	for {
		i := strings.Index(rest, `href="http`)
		if i == -1 {
			b.WriteString(rest)
			break
		}
		start := i + len(`href="`)
		end := strings.Index(rest[start:], `"`)
		if end == -1 {
			b.WriteString(rest)
			break
		}
		original := rest[start : start+end]
		b.WriteString(rest[:start])
		if strings.Contains(original, "/track/") {
			b.WriteString(original)
		} else {
			b.WriteString(s.ClickURL(trackingID, original))
		}
		rest = rest[start+end:]
	}
	return b.String()
}

// RecordOpen verifies a pixel request and flags the action as opened.
func (s *Service) RecordOpen(ctx context.Context, token, sig string, meta Meta) error {
	trackingID, err := s.decode(token, sig)
	if err != nil {
		return err
	}
	action, err := s.actions.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	now := time.Now()
	first, err := s.actions.MarkOpened(ctx, action.ID, now)
	if err != nil {
		return err
	}
	s.appendEvent(ctx, action, EventOpen, "", meta, now)
	if first {
		logger.Debug("open recorded", "action_id", action.ID, "enrollment_id", action.EnrollmentID)
	}
	return nil
}

// RecordClick verifies a redirect request, flags the action as clicked
// (clicks imply opens), and returns the original destination.
func (s *Service) RecordClick(ctx context.Context, token, sig string, meta Meta) (string, error) {
	data, err := s.decode(token, sig)
	if err != nil {
		return "", err
	}
	trackingID, original, ok := strings.Cut(data, "|")
	if !ok {
		return "", fmt.Errorf("malformed click token")
	}
	action, err := s.actions.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if _, err := s.actions.MarkClicked(ctx, action.ID, now); err != nil {
		return original, err
	}
	if _, err := s.actions.MarkOpened(ctx, action.ID, now); err != nil {
		return original, err
	}
	s.appendEvent(ctx, action, EventClick, original, meta, now)
	return original, nil
}

// RecordReply marks the action replied and terminates the enrollment.
// Driven by the inbound-mail webhook.
func (s *Service) RecordReply(ctx context.Context, trackingID string, meta Meta) error {
	action, err := s.actions.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.actions.MarkReplied(ctx, action.ID, now); err != nil {
		return err
	}
	s.appendEvent(ctx, action, EventReply, "", meta, now)
	if err := s.enrollments.MarkReplied(ctx, action.EnrollmentID); err != nil {
		// The enrollment may already be terminal; the reply flag still stands.
		logger.Warn("reply transition not applied",
			"enrollment_id", action.EnrollmentID, "error", err.Error())
	}
	return nil
}

// RecordBounce marks the action bounced. Hard bounces terminate the
// enrollment; soft bounces only log the event.
func (s *Service) RecordBounce(ctx context.Context, trackingID string, hard bool, meta Meta) error {
	action, err := s.actions.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.actions.MarkBounced(ctx, action.ID, now); err != nil {
		return err
	}
	s.appendEvent(ctx, action, EventBounce, "", meta, now)
	if !hard {
		return nil
	}
	if err := s.enrollments.MarkBounced(ctx, action.EnrollmentID); err != nil {
		logger.Warn("bounce transition not applied",
			"enrollment_id", action.EnrollmentID, "error", err.Error())
	}
	return nil
}

func (s *Service) appendEvent(ctx context.Context, action *domain.Action, typ EventType, link string, meta Meta, at time.Time) {
	ev := &Event{
		ID:           uuid.New().String(),
		ActionID:     action.ID,
		EnrollmentID: action.EnrollmentID,
		Type:         typ,
		LinkURL:      link,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		EventAt:      at,
	}
	if err := s.events.RecordEvent(ctx, ev); err != nil {
		logger.Warn("tracking event not recorded", "action_id", action.ID, "error", err.Error())
	}
}

func (s *Service) decode(token, sig string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid token encoding")
	}
	data := string(raw)
	if !s.verify(data, sig) {
		return "", fmt.Errorf("invalid signature")
	}
	return data, nil
}

func (s *Service) sign(data string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Service) verify(data, sig string) bool {
	return hmac.Equal([]byte(s.sign(data)), []byte(sig))
}
