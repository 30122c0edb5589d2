package tracking

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowhq/outreach/internal/domain"
)

type memActions struct {
	mu      sync.Mutex
	actions map[string]*domain.Action // keyed by tracking id
}

func newMemActions(trackingIDs ...string) *memActions {
	m := &memActions{actions: make(map[string]*domain.Action)}
	for _, tid := range trackingIDs {
		m.actions[tid] = &domain.Action{
			ID:           "action-" + tid,
			EnrollmentID: "enr-" + tid,
			TrackingID:   tid,
			Status:       domain.ActionSent,
		}
	}
	return m
}

func (m *memActions) GetByTrackingID(_ context.Context, trackingID string) (*domain.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[trackingID]
	if !ok {
		return nil, assert.AnError
	}
	return a, nil
}

func (m *memActions) mark(field **time.Time, at time.Time) (bool, error) {
	if *field != nil {
		return false, nil
	}
	*field = &at
	return true, nil
}

func (m *memActions) byID(actionID string) *domain.Action {
	for _, a := range m.actions {
		if a.ID == actionID {
			return a
		}
	}
	return nil
}

func (m *memActions) MarkOpened(_ context.Context, actionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark(&m.byID(actionID).OpenedAt, at)
}

func (m *memActions) MarkClicked(_ context.Context, actionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark(&m.byID(actionID).ClickedAt, at)
}

func (m *memActions) MarkReplied(_ context.Context, actionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark(&m.byID(actionID).RepliedAt, at)
}

func (m *memActions) MarkBounced(_ context.Context, actionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark(&m.byID(actionID).BouncedAt, at)
}

type memEvents struct {
	mu     sync.Mutex
	events []Event
}

func (m *memEvents) RecordEvent(_ context.Context, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

type memMarker struct {
	replied []string
	bounced []string
}

func (m *memMarker) MarkReplied(_ context.Context, id string) error {
	m.replied = append(m.replied, id)
	return nil
}

func (m *memMarker) MarkBounced(_ context.Context, id string) error {
	m.bounced = append(m.bounced, id)
	return nil
}

func newTestService(actions *memActions) (*Service, *memEvents, *memMarker) {
	events := &memEvents{}
	marker := &memMarker{}
	return NewService(actions, events, marker, "test-signing-key", "https://track.example.com"), events, marker
}

// splitURL pulls (token, sig) out of a generated tracking URL.
func splitURL(t *testing.T, u string) (token, sig string) {
	t.Helper()
	parts := strings.Split(u, "/")
	require.GreaterOrEqual(t, len(parts), 2)
	return parts[len(parts)-2], parts[len(parts)-1]
}

func TestPixelRoundTrip(t *testing.T) {
	actions := newMemActions("tid-1")
	svc, events, _ := newTestService(actions)

	u := svc.PixelURL("tid-1")
	assert.True(t, strings.HasPrefix(u, "https://track.example.com/track/open/"))

	token, sig := splitURL(t, u)
	require.NoError(t, svc.RecordOpen(context.Background(), token, sig, Meta{IPAddress: "1.2.3.4"}))

	a := actions.actions["tid-1"]
	require.NotNil(t, a.OpenedAt)
	first := *a.OpenedAt

	// Second open keeps the original timestamp but still logs an event.
	require.NoError(t, svc.RecordOpen(context.Background(), token, sig, Meta{}))
	assert.Equal(t, first, *a.OpenedAt)
	assert.Len(t, events.events, 2)
	assert.Equal(t, EventOpen, events.events[0].Type)
}

func TestRecordOpenRejectsBadSignature(t *testing.T) {
	svc, _, _ := newTestService(newMemActions("tid-1"))
	token, _ := splitURL(t, svc.PixelURL("tid-1"))
	assert.Error(t, svc.RecordOpen(context.Background(), token, "deadbeefdeadbeef", Meta{}))
}

func TestClickRoundTrip(t *testing.T) {
	actions := newMemActions("tid-1")
	svc, events, _ := newTestService(actions)

	u := svc.ClickURL("tid-1", "https://example.com/pricing?x=1")
	token, sig := splitURL(t, u)

	dest, err := svc.RecordClick(context.Background(), token, sig, Meta{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/pricing?x=1", dest)

	a := actions.actions["tid-1"]
	assert.NotNil(t, a.ClickedAt)
	assert.NotNil(t, a.OpenedAt) // click implies open
	require.Len(t, events.events, 1)
	assert.Equal(t, EventClick, events.events[0].Type)
	assert.Equal(t, "https://example.com/pricing?x=1", events.events[0].LinkURL)
}

func TestInject(t *testing.T) {
	svc, _, _ := newTestService(newMemActions("tid-1"))

	html := `<html><body><p>Hi</p><a href="https://example.com/demo">book a demo</a></body></html>`
	out := svc.Inject(html, "tid-1")

	assert.Contains(t, out, "/track/open/")
	assert.Contains(t, out, "/track/click/")
	assert.NotContains(t, out, `href="https://example.com/demo"`)
	// Pixel lands inside the body.
	assert.Contains(t, out, `style="display:none"`)
	assert.True(t, strings.Index(out, "/track/open/") < strings.Index(out, "</body>"))
}

func TestInjectWithoutBodyTag(t *testing.T) {
	svc, _, _ := newTestService(newMemActions("tid-1"))
	out := svc.Inject("<p>plain</p>", "tid-1")
	assert.Contains(t, out, "/track/open/")
}

func TestInjectSkipsTrackedLinks(t *testing.T) {
	svc, _, _ := newTestService(newMemActions("tid-1"))
	html := `<a href="https://track.example.com/track/click/abc/def">x</a>`
	out := svc.Inject(html, "tid-1")
	assert.Contains(t, out, `href="https://track.example.com/track/click/abc/def"`)
}

func TestRecordReplyTerminatesEnrollment(t *testing.T) {
	actions := newMemActions("tid-1")
	svc, events, marker := newTestService(actions)

	require.NoError(t, svc.RecordReply(context.Background(), "tid-1", Meta{}))
	assert.NotNil(t, actions.actions["tid-1"].RepliedAt)
	assert.Equal(t, []string{"enr-tid-1"}, marker.replied)
	require.Len(t, events.events, 1)
	assert.Equal(t, EventReply, events.events[0].Type)
}

func TestRecordBounce(t *testing.T) {
	actions := newMemActions("tid-1", "tid-2")
	svc, _, marker := newTestService(actions)

	// Soft bounce: flag and event only.
	require.NoError(t, svc.RecordBounce(context.Background(), "tid-1", false, Meta{}))
	assert.NotNil(t, actions.actions["tid-1"].BouncedAt)
	assert.Empty(t, marker.bounced)

	// Hard bounce terminates.
	require.NoError(t, svc.RecordBounce(context.Background(), "tid-2", true, Meta{}))
	assert.Equal(t, []string{"enr-tid-2"}, marker.bounced)
}
