// Package enrollment owns the lifecycle of a contact inside a sequence:
// enroll, advance, pause, resume, and the terminal transitions (completed,
// replied, bounced, stopped). Entering a terminal state cancels the
// enrollment's pending queue items. All status transitions are expressed
// as conditional updates predicated on the prior status so concurrent
// workers cannot double-apply them.
package enrollment
