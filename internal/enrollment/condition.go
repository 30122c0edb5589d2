package enrollment

import (
	"time"

	"github.com/leadflowhq/outreach/internal/domain"
)

// Evaluate decides whether a condition holds against the referenced step's
// dispatch record. A missing or unsent action always evaluates false.
//
// For if_no_reply, grace is the minimum time the contact gets to reply
// before "no reply" can hold. With the default of zero the condition holds
// as soon as no reply has been recorded.
func Evaluate(cond domain.ConditionType, ref *domain.Action, grace time.Duration, now time.Time) bool {
	if ref == nil || ref.Status != domain.ActionSent || ref.SentAt == nil {
		return false
	}
	switch cond {
	case domain.CondIfNoReply:
		return ref.RepliedAt == nil && now.Sub(*ref.SentAt) >= grace
	case domain.CondIfOpened:
		return ref.OpenedAt != nil
	case domain.CondIfClicked:
		return ref.ClickedAt != nil
	case domain.CondIfReplied:
		return ref.RepliedAt != nil
	}
	return false
}
