package diagnostic

import (
	"go.uber.org/zap"

	"github.com/qreshi/opensearch-alerting/keyvalue"
	alertservice "github.com/qreshi/opensearch-alerting/services/alert"
	"github.com/qreshi/opensearch-alerting/services/scheduler"
)

func fields(err error, ctx []keyvalue.T) []zap.Field {
	fs := make([]zap.Field, 0, len(ctx)+1)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	for _, kv := range ctx {
		fs = append(fs, zap.String(kv.Key, kv.Value))
	}
	return fs
}

type AlertHandler struct {
	l *zap.Logger
}

var _ alertservice.Diagnostic = (*AlertHandler)(nil)

func (h *AlertHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	h.l.Error(msg, fields(err, ctx)...)
}

func (h *AlertHandler) StartingCycle(monitorID string) {
	h.l.Debug("starting evaluation cycle", zap.String("monitor", monitorID))
}

func (h *AlertHandler) AlertStateChange(alertID string, from, to string) {
	h.l.Info("alert state change",
		zap.String("alert", alertID),
		zap.String("from", from),
		zap.String("to", to),
	)
}

func (h *AlertHandler) ActionExecuted(alertID, actionID string) {
	h.l.Debug("action executed",
		zap.String("alert", alertID),
		zap.String("action", actionID),
	)
}

func (h *AlertHandler) ActionThrottled(alertID, actionID string) {
	h.l.Debug("action throttled",
		zap.String("alert", alertID),
		zap.String("action", actionID),
	)
}

func (h *AlertHandler) ActionFailed(alertID, actionID string, err error) {
	h.l.Error("action failed",
		zap.String("alert", alertID),
		zap.String("action", actionID),
		zap.Error(err),
	)
}

func (h *AlertHandler) AcknowledgedAlert(monitorID, alertID string) {
	h.l.Info("alert acknowledged",
		zap.String("monitor", monitorID),
		zap.String("alert", alertID),
	)
}

type SchedulerHandler struct {
	l *zap.Logger
}

var _ scheduler.Diagnostic = (*SchedulerHandler)(nil)

func (h *SchedulerHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	h.l.Error(msg, fields(err, ctx)...)
}

func (h *SchedulerHandler) MonitorRegistered(id, name string) {
	h.l.Info("monitor scheduled",
		zap.String("monitor", id),
		zap.String("name", name),
	)
}

func (h *SchedulerHandler) MonitorDeregistered(id string) {
	h.l.Info("monitor removed from schedule", zap.String("monitor", id))
}

func (h *SchedulerHandler) RunPanicked(monitorID string, recovered interface{}) {
	h.l.Error("monitor run panicked",
		zap.String("monitor", monitorID),
		zap.Any("panic", recovered),
	)
}
