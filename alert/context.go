package alert

import (
	"time"

	"github.com/qreshi/opensearch-alerting/monitor"
)

// EvalContext assembles everything one trigger evaluation and its actions
// need: the monitor, the trigger, the query results for the cycle, the
// evaluated time window and the prior alert, if any.
type EvalContext struct {
	Monitor monitor.Monitor
	Trigger monitor.Trigger

	// Results of the monitor's queries for this cycle. The shape is
	// whatever the query engine returned; this module never looks inside.
	Results []map[string]interface{}

	PeriodStart time.Time
	PeriodEnd   time.Time

	// Prior is the existing non-terminal alert for this trigger, or nil.
	Prior *Alert
}

// TemplateData is the argument map handed to the template renderer when an
// action's subject and message are expanded.
func (c *EvalContext) TemplateData() map[string]interface{} {
	ctx := map[string]interface{}{
		"monitor": map[string]interface{}{
			"id":      c.Monitor.ID,
			"version": c.Monitor.Version,
			"name":    c.Monitor.Name,
			"enabled": c.Monitor.Enabled,
		},
		"trigger": map[string]interface{}{
			"id":       c.Trigger.ID,
			"name":     c.Trigger.Name,
			"severity": c.Trigger.Severity,
		},
		"results":     c.Results,
		"periodStart": c.PeriodStart,
		"periodEnd":   c.PeriodEnd,
	}
	if c.Prior != nil {
		ctx["alert"] = map[string]interface{}{
			"id":            c.Prior.ID,
			"state":         c.Prior.State.String(),
			"error_message": c.Prior.ErrorMessage,
			"start_time":    c.Prior.StartTime,
		}
	}
	return map[string]interface{}{"ctx": ctx}
}
