package alert

import (
	"time"

	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/monitor"
)

// ErrNotAcknowledgeable is returned when an alert cannot move to
// ACKNOWLEDGED from its current state.
var ErrNotAcknowledgeable = errors.New("alert is not in an acknowledgeable state")

// Tracker is the alert lifecycle state machine. All transitions are pure:
// they take a snapshot and return a new one, leaving the input untouched.
// Serialization of concurrent transitions for the same alert is the
// caller's concern.
type Tracker struct {
	IDs monitor.IDGenerator
}

func NewTracker(ids monitor.IDGenerator) Tracker {
	return Tracker{IDs: ids}
}

// Evaluate applies the outcome of one trigger evaluation cycle.
//
//	no alert, condition true        -> new ACTIVE alert
//	ACTIVE, condition true          -> ACTIVE (ledger updates follow)
//	non-terminal, condition false   -> COMPLETED, end time set
//	evaluation failed               -> ERROR, actions skipped this cycle
//	ERROR, condition true again     -> back to ACTIVE, error cleared
//
// A nil return means there is nothing to create or update this cycle.
func (t Tracker) Evaluate(ctx *EvalContext, triggered bool, evalErr error, now time.Time) *Alert {
	prior := ctx.Prior

	if evalErr != nil {
		a := prior.Clone()
		if a == nil {
			a = t.newAlert(ctx, now)
		}
		if a.State != StateError {
			a.appendHistory(now, "trigger evaluation failed: %v", evalErr)
		}
		a.State = StateError
		a.ErrorMessage = evalErr.Error()
		return a
	}

	if !triggered {
		if prior == nil || prior.State.Terminal() {
			return nil
		}
		a := prior.Clone()
		a.State = StateCompleted
		end := now
		a.EndTime = &end
		a.ErrorMessage = ""
		return a
	}

	if prior == nil {
		a := t.newAlert(ctx, now)
		a.State = StateActive
		return a
	}

	a := prior.Clone()
	// Pick up monitor edits made since the alert started.
	a.MonitorVersion = ctx.Monitor.Version
	a.MonitorName = ctx.Monitor.Name
	a.Severity = ctx.Trigger.Severity
	if a.State == StateError {
		a.State = StateActive
		a.ErrorMessage = ""
		a.appendHistory(now, "trigger evaluation recovered")
	}
	return a
}

func (t Tracker) newAlert(ctx *EvalContext, now time.Time) *Alert {
	return &Alert{
		ID:             t.IDs.ID(),
		MonitorID:      ctx.Monitor.ID,
		MonitorVersion: ctx.Monitor.Version,
		MonitorName:    ctx.Monitor.Name,
		TriggerID:      ctx.Trigger.ID,
		TriggerName:    ctx.Trigger.Name,
		Severity:       ctx.Trigger.Severity,
		ActionResults:  make(map[string]*ActionExecutionResult),
		StartTime:      now,
		User:           ctx.Monitor.User,
	}
}

// Acknowledge moves an alert to ACKNOWLEDGED.
//
// Re-acknowledging an already acknowledged alert is a no-op success: the
// same snapshot comes back, acknowledged time untouched. Alerts in ERROR or
// DELETED state refuse with ErrNotAcknowledgeable.
func (t Tracker) Acknowledge(a *Alert, now time.Time) (*Alert, error) {
	switch a.State {
	case StateAcknowledged:
		return a.Clone(), nil
	case StateActive, StateCompleted:
		c := a.Clone()
		c.State = StateAcknowledged
		ack := now
		c.AcknowledgedTime = &ack
		c.appendHistory(now, "alert acknowledged")
		return c, nil
	default:
		return nil, errors.Wrapf(ErrNotAcknowledgeable, "state %s", a.State)
	}
}

// Delete tombstones an alert for retention cleanup. Allowed from any state;
// the record is immutable afterwards.
func (t Tracker) Delete(a *Alert, now time.Time) *Alert {
	c := a.Clone()
	c.State = StateDeleted
	c.appendHistory(now, "alert deleted by retention")
	return c
}

// ActionsRunnable reports whether the cycle that produced this snapshot may
// dispatch actions. Only a live ACTIVE alert fires notifications; errored,
// acknowledged and resolved alerts never do.
func ActionsRunnable(a *Alert) bool {
	return a != nil && a.State == StateActive
}
