// Package alert holds the alert state model, the per-action execution
// ledger used to enforce throttling, and the alert lifecycle state machine.
//
// Everything here operates on in-memory snapshots of a single alert and is
// deliberately free of locks and clocks: callers pass explicit times and
// serialize concurrent writers through versioned persistence.
package alert

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/qreshi/opensearch-alerting/monitor"
)

// State is the lifecycle state of an alert.
type State int

const (
	StateActive State = iota
	StateAcknowledged
	StateCompleted
	StateError
	StateDeleted
	maxState
)

const stateStrings = "ACTIVEACKNOWLEDGEDCOMPLETEDERRORDELETED"

var stateBytes = []byte(stateStrings)

var stateOffsets = []int{0, 6, 18, 27, 32, 39}

func (s State) String() string {
	if s >= 0 && s < maxState {
		return stateStrings[stateOffsets[s]:stateOffsets[s+1]]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || s >= maxState {
		return nil, fmt.Errorf("unknown alert state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	idx := bytes.Index(stateBytes, text)
	if idx >= 0 && len(text) > 0 {
		for i := 0; i < int(maxState); i++ {
			if idx == stateOffsets[i] && len(text) == stateOffsets[i+1]-stateOffsets[i] {
				*s = State(i)
				return nil
			}
		}
	}
	return fmt.Errorf("unknown alert state '%s'", text)
}

func ParseState(s string) (st State, err error) {
	err = st.UnmarshalText([]byte(strings.ToUpper(s)))
	return
}

// Terminal reports whether no further evaluation cycle may mutate an alert
// in this state. At most one non-terminal alert exists per
// (monitor, trigger) pair.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDeleted
}

// ActionExecutionResult records when an action last executed and how many
// cycles it has been suppressed by its throttle during the current alert.
type ActionExecutionResult struct {
	ActionID          string     `json:"action_id"`
	LastExecutionTime *time.Time `json:"last_execution_time,omitempty"`
	ThrottledCount    int        `json:"throttled_count"`
}

// markThrottled counts one throttled skip. The counter saturates instead of
// wrapping.
func (r *ActionExecutionResult) markThrottled() {
	if r.ThrottledCount < math.MaxInt32 {
		r.ThrottledCount++
	}
}

// HistoryEntry is one line of an alert's audit trail.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Alert is the persistent record of one trigger being in a fired,
// acknowledged or resolved state.
type Alert struct {
	ID                   string                            `json:"id"`
	MonitorID            string                            `json:"monitor_id"`
	MonitorVersion       int64                             `json:"monitor_version"`
	MonitorName          string                            `json:"monitor_name"`
	TriggerID            string                            `json:"trigger_id"`
	TriggerName          string                            `json:"trigger_name"`
	State                State                             `json:"state"`
	ErrorMessage         string                            `json:"error_message,omitempty"`
	History              []HistoryEntry                    `json:"alert_history"`
	Severity             string                            `json:"severity"`
	ActionResults        map[string]*ActionExecutionResult `json:"action_execution_results"`
	StartTime            time.Time                         `json:"start_time"`
	LastNotificationTime *time.Time                        `json:"last_notification_time,omitempty"`
	EndTime              *time.Time                        `json:"end_time,omitempty"`
	AcknowledgedTime     *time.Time                        `json:"acknowledged_time,omitempty"`
	User                 *monitor.User                     `json:"monitor_user,omitempty"`
}

// Clone returns a deep copy. Lifecycle transitions and ledger updates
// always work on a copy so a failed persist leaves the prior snapshot
// untouched.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	if a.History != nil {
		c.History = make([]HistoryEntry, len(a.History))
		copy(c.History, a.History)
	}
	if a.ActionResults != nil {
		c.ActionResults = make(map[string]*ActionExecutionResult, len(a.ActionResults))
		for id, r := range a.ActionResults {
			rc := *r
			rc.LastExecutionTime = cloneTime(r.LastExecutionTime)
			c.ActionResults[id] = &rc
		}
	}
	c.LastNotificationTime = cloneTime(a.LastNotificationTime)
	c.EndTime = cloneTime(a.EndTime)
	c.AcknowledgedTime = cloneTime(a.AcknowledgedTime)
	if a.User != nil {
		u := *a.User
		if a.User.Roles != nil {
			u.Roles = make([]string, len(a.User.Roles))
			copy(u.Roles, a.User.Roles)
		}
		c.User = &u
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// historyLimit bounds the audit trail kept on an alert record.
const historyLimit = 10

func (a *Alert) appendHistory(now time.Time, format string, args ...interface{}) {
	a.History = append(a.History, HistoryEntry{
		Timestamp: now,
		Message:   fmt.Sprintf(format, args...),
	})
	if n := len(a.History); n > historyLimit {
		a.History = a.History[n-historyLimit:]
	}
}
