package quoter

import (
	"time"

	"golang.org/x/time/rate"

	"gridflow/internal/models"
)

// ActionBudget meters exchange-affecting calls. Place/amend/cancel all
// draw from one shared allowance; cancels additionally draw from their
// own, stricter allowance. Actions that do not fit the current window
// are queued and re-attempted, never dropped.
type ActionBudget struct {
	actions *rate.Limiter
	cancels *rate.Limiter

	deferred []models.BatchOrder
}

// NewActionBudget allows actionsPerWindow total actions and
// cancelsPerWindow cancels per rolling window.
func NewActionBudget(actionsPerWindow, cancelsPerWindow int, window time.Duration) *ActionBudget {
	if actionsPerWindow < 1 {
		actionsPerWindow = 1
	}
	if cancelsPerWindow < 1 {
		cancelsPerWindow = actionsPerWindow
	}
	if window <= 0 {
		window = time.Second
	}
	return &ActionBudget{
		actions: rate.NewLimiter(rate.Every(window/time.Duration(actionsPerWindow)), actionsPerWindow),
		cancels: rate.NewLimiter(rate.Every(window/time.Duration(cancelsPerWindow)), cancelsPerWindow),
	}
}

// allow consumes budget for one operation if available.
func (b *ActionBudget) allow(now time.Time, op models.BatchOp) bool {
	if op == models.BatchOpCancel {
		// Peek the shared allowance before consuming the cancel one so a
		// failed check never burns a token.
		if b.actions.TokensAt(now) < 1 || b.cancels.TokensAt(now) < 1 {
			return false
		}
		return b.cancels.AllowN(now, 1) && b.actions.AllowN(now, 1)
	}
	return b.actions.AllowN(now, 1)
}

// Submit drains previously deferred actions first, then the new batch,
// in order, for as long as budget remains. Everything that does not fit
// is kept on the deferred queue. The returned slice is what may be sent
// now.
func (b *ActionBudget) Submit(now time.Time, ops []models.BatchOrder) []models.BatchOrder {
	queue := append(b.deferred, ops...)
	b.deferred = nil

	var ready []models.BatchOrder
	for i, op := range queue {
		if !b.allow(now, op.Op) {
			b.deferred = append(b.deferred, queue[i:]...)
			break
		}
		ready = append(ready, op)
	}
	return ready
}

// Replace drops deferred place/amend intents, which a freshly built
// grid supersedes. Deferred cancels still refer to real orders and are
// kept.
func (b *ActionBudget) Replace() {
	kept := b.deferred[:0]
	for _, op := range b.deferred {
		if op.Op == models.BatchOpCancel {
			kept = append(kept, op)
		}
	}
	b.deferred = kept
}

// Pending reports how many actions are waiting for budget.
func (b *ActionBudget) Pending() int { return len(b.deferred) }
