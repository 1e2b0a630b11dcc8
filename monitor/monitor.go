package monitor

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/gorhill/cronexpr"
)

// Schedule determines when a monitor's next evaluation cycle is due.
// Exactly one of Cron or PeriodMinutes must be set.
type Schedule struct {
	Cron          string `json:"cron,omitempty"`
	PeriodMinutes int    `json:"period_minutes,omitempty"`
}

func (s Schedule) Validate() error {
	if s.Cron == "" && s.PeriodMinutes == 0 {
		return invalidConfigf("schedule must set cron or period_minutes")
	}
	if s.Cron != "" && s.PeriodMinutes != 0 {
		return invalidConfigf("schedule must set only one of cron or period_minutes")
	}
	if s.PeriodMinutes < 0 {
		return invalidConfigf("schedule period must be positive, got %d minutes", s.PeriodMinutes)
	}
	if s.Cron != "" {
		if _, err := cronexpr.Parse(s.Cron); err != nil {
			return invalidConfigf("invalid cron expression %q: %v", s.Cron, err)
		}
	}
	return nil
}

// Next returns the next due time strictly after from.
func (s Schedule) Next(from time.Time) time.Time {
	if s.Cron != "" {
		expr, err := cronexpr.Parse(s.Cron)
		if err != nil {
			// Validate catches this before a schedule is accepted.
			return time.Time{}
		}
		return expr.Next(from)
	}
	return from.Add(time.Duration(s.PeriodMinutes) * time.Minute)
}

// Trigger is a condition attached to a monitor. When the condition holds,
// its configured actions fire, subject to per-action throttling.
type Trigger struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Severity  string   `json:"severity"`
	Condition Script   `json:"condition"`
	Actions   []Action `json:"actions"`
}

func (t Trigger) Validate() error {
	if t.Name == "" {
		return invalidConfigf("trigger name must not be empty")
	}
	if t.Severity == "" {
		return invalidConfigf("trigger severity must not be empty")
	}
	seen := make(map[string]bool, len(t.Actions))
	for _, a := range t.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
		if a.ID != "" && seen[a.ID] {
			return invalidConfigf("duplicate action id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// User identifies who configured a monitor.
type User struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// Monitor is a scheduled unit that runs queries and evaluates triggers
// against the results. The query specs are opaque to this module; the
// query engine consumes them as a black box.
type Monitor struct {
	ID       string            `json:"id"`
	Version  int64             `json:"version"`
	Name     string            `json:"name"`
	Enabled  bool              `json:"enabled"`
	Schedule Schedule          `json:"schedule"`
	Inputs   []json.RawMessage `json:"inputs"`
	Triggers []Trigger         `json:"triggers"`
	User     *User             `json:"user,omitempty"`
}

func (m Monitor) Validate() error {
	if m.Name == "" {
		return invalidConfigf("monitor name must not be empty")
	}
	if err := m.Schedule.Validate(); err != nil {
		return err
	}
	for _, t := range m.Triggers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseMonitor decodes and validates a JSON monitor record, assigning fresh
// IDs to the monitor, triggers and actions that lack one.
func ParseMonitor(data []byte, ids IDGenerator) (Monitor, error) {
	var m Monitor
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Monitor{}, parseErr("monitor", err)
	}
	if err := ensureEOF(dec); err != nil {
		return Monitor{}, parseErr("monitor", err)
	}
	if m.ID == "" {
		m.ID = ids.ID()
	}
	for i := range m.Triggers {
		t := &m.Triggers[i]
		if t.ID == "" {
			t.ID = ids.ID()
		}
		for j := range t.Actions {
			if t.Actions[j].ID == "" {
				t.Actions[j].ID = ids.ID()
			}
		}
	}
	if err := m.Validate(); err != nil {
		return Monitor{}, parseErr("monitor", err)
	}
	return m, nil
}
