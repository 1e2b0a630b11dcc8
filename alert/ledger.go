package alert

import (
	"time"

	"github.com/qreshi/opensearch-alerting/monitor"
)

// Ledger is the per-action execution bookkeeping for one alert. It decides,
// for a single evaluation cycle, which of the trigger's actions are
// eligible to run, and records the outcome of each.
//
// A Ledger holds no state of its own: it reads and writes the alert's
// ActionResults map exclusively. It is a plain function of the snapshot it
// wraps; concurrent cycles for the same alert must be serialized externally,
// which the service layer does through versioned persistence.
type Ledger struct {
	alert *Alert
}

func NewLedger(a *Alert) Ledger {
	return Ledger{alert: a}
}

// Eligible reports whether the action may run in a cycle evaluated at now.
// Actions without throttling always run. The check never mutates the alert.
func (l Ledger) Eligible(a monitor.Action, now time.Time) bool {
	if !a.ThrottleEnabled {
		return true
	}
	// Validation guarantees a throttle is configured when enabled.
	var last *time.Time
	if r, ok := l.alert.ActionResults[a.ID]; ok {
		last = r.LastExecutionTime
	}
	return !a.Throttle.ShouldThrottle(last, now)
}

// Partition splits the actions, in trigger order, into those eligible to
// run now and those suppressed by their throttle. It does not mutate the
// alert; record the outcomes after execution.
func (l Ledger) Partition(actions []monitor.Action, now time.Time) (runnable, throttled []monitor.Action) {
	for _, a := range actions {
		if l.Eligible(a, now) {
			runnable = append(runnable, a)
		} else {
			throttled = append(throttled, a)
		}
	}
	return runnable, throttled
}

func (l Ledger) result(actionID string) *ActionExecutionResult {
	if l.alert.ActionResults == nil {
		l.alert.ActionResults = make(map[string]*ActionExecutionResult)
	}
	r, ok := l.alert.ActionResults[actionID]
	if !ok {
		r = &ActionExecutionResult{ActionID: actionID}
		l.alert.ActionResults[actionID] = r
	}
	return r
}

// RecordExecution marks an action as executed at now. The throttled skip
// count is left alone; it tracks suppressions within the current alert, not
// total cycles.
func (l Ledger) RecordExecution(actionID string, now time.Time) {
	r := l.result(actionID)
	t := now
	r.LastExecutionTime = &t
	l.alert.LastNotificationTime = &t
}

// RecordThrottled counts one throttled skip for the action. The last
// execution time is untouched so the cooldown window keeps its anchor.
func (l Ledger) RecordThrottled(actionID string) {
	l.result(actionID).markThrottled()
}

// RecordFailure notes a failed dispatch in the alert history. Neither the
// execution time nor the skip count moves: a failed send does not use up
// the cooldown, so the action is re-attempted next cycle.
func (l Ledger) RecordFailure(actionName, actionID string, execErr error, now time.Time) {
	// Touch the result so the action shows up in the ledger even if it
	// has never succeeded.
	l.result(actionID)
	l.alert.appendHistory(now, "failed to execute action %s: %v", actionName, execErr)
}
