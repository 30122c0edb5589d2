package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leadflowhq/outreach/internal/domain"
)

func sentAction(sentAgo time.Duration, now time.Time) *domain.Action {
	at := now.Add(-sentAgo)
	return &domain.Action{Status: domain.ActionSent, SentAt: &at}
}

func TestEvaluateMissingOrUnsentAction(t *testing.T) {
	now := time.Now()
	assert.False(t, Evaluate(domain.CondIfOpened, nil, 0, now))
	assert.False(t, Evaluate(domain.CondIfOpened, &domain.Action{Status: domain.ActionPending}, 0, now))
	assert.False(t, Evaluate(domain.CondIfOpened, &domain.Action{Status: domain.ActionFailed}, 0, now))
}

func TestEvaluateNoReply(t *testing.T) {
	now := time.Now()

	a := sentAction(48*time.Hour, now)
	assert.True(t, Evaluate(domain.CondIfNoReply, a, 0, now))

	replied := now.Add(-time.Hour)
	a.RepliedAt = &replied
	assert.False(t, Evaluate(domain.CondIfNoReply, a, 0, now))
}

func TestEvaluateNoReplyGrace(t *testing.T) {
	now := time.Now()

	// Sent an hour ago with a two day grace window: the contact still has
	// time to reply, so "no reply" does not hold yet.
	a := sentAction(time.Hour, now)
	assert.False(t, Evaluate(domain.CondIfNoReply, a, 48*time.Hour, now))

	a = sentAction(72*time.Hour, now)
	assert.True(t, Evaluate(domain.CondIfNoReply, a, 48*time.Hour, now))
}

func TestEvaluateOutcomeFlags(t *testing.T) {
	now := time.Now()
	ts := now.Add(-time.Minute)

	a := sentAction(time.Hour, now)
	assert.False(t, Evaluate(domain.CondIfOpened, a, 0, now))
	assert.False(t, Evaluate(domain.CondIfClicked, a, 0, now))
	assert.False(t, Evaluate(domain.CondIfReplied, a, 0, now))

	a.OpenedAt = &ts
	a.ClickedAt = &ts
	a.RepliedAt = &ts
	assert.True(t, Evaluate(domain.CondIfOpened, a, 0, now))
	assert.True(t, Evaluate(domain.CondIfClicked, a, 0, now))
	assert.True(t, Evaluate(domain.CondIfReplied, a, 0, now))
}
