// Package alert runs monitor evaluation cycles: it decides which
// notification actions fire, enforces per-action throttling through the
// execution ledger, and persists alert lifecycle transitions with
// optimistic concurrency.
package alert

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/alert"
	"github.com/qreshi/opensearch-alerting/keyvalue"
	"github.com/qreshi/opensearch-alerting/monitor"
	"github.com/qreshi/opensearch-alerting/services/storage"
)

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)

	StartingCycle(monitorID string)
	AlertStateChange(alertID string, from, to string)
	ActionExecuted(alertID, actionID string)
	ActionThrottled(alertID, actionID string)
	ActionFailed(alertID, actionID string, err error)
	AcknowledgedAlert(monitorID, alertID string)
}

// QueryService runs a monitor's queries. The query DSL and its execution
// belong to the search engine; this module hands the specs over as is.
type QueryService interface {
	Query(ctx context.Context, inputs []json.RawMessage, periodStart, periodEnd time.Time) ([]map[string]interface{}, error)
}

// TriggerEvaluator decides whether a trigger condition holds for one
// evaluation context.
type TriggerEvaluator interface {
	EvalTrigger(ctx context.Context, ec *alert.EvalContext) (bool, error)
}

// TemplateRenderer expands a notification template against the standard
// template data of an evaluation context.
type TemplateRenderer interface {
	Render(s monitor.Script, data map[string]interface{}) (string, error)
}

type StorageService interface {
	Store(namespace string) storage.Interface
}

const alertNamespace = "alerts"

type Service struct {
	mu        sync.RWMutex
	executors map[string]Executor
	lastCycle map[string]time.Time

	c       Config
	diag    Diagnostic
	clock   clock.Clock
	tracker alert.Tracker
	alerts  AlertDAO

	StorageService StorageService
	Queries        QueryService
	Evaluator      TriggerEvaluator
	Renderer       TemplateRenderer
	IDGenerator    monitor.IDGenerator
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		executors:   make(map[string]Executor),
		lastCycle:   make(map[string]time.Time),
		c:           c,
		diag:        d,
		clock:       clock.New(),
		IDGenerator: monitor.UUIDGenerator{},
	}
}

// WithClock substitutes the wall clock, for tests.
func (s *Service) WithClock(c clock.Clock) {
	s.clock = c
}

func (s *Service) Open() error {
	if err := s.c.Validate(); err != nil {
		return err
	}
	s.tracker = alert.NewTracker(s.IDGenerator)
	s.alerts = newAlertKV(storage.NewVersionedStore(s.StorageService.Store(alertNamespace)))
	for _, spec := range s.c.Destinations {
		e, err := s.createExecutorFromSpec(spec)
		if err != nil {
			return errors.Wrapf(err, "failed to create executor for destination %q", spec.ID)
		}
		s.RegisterExecutor(spec.ID, e)
	}
	return nil
}

func (s *Service) Close() error {
	return nil
}

// RegisterExecutor installs the executor handling one destination id.
func (s *Service) RegisterExecutor(destinationID string, e Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[destinationID] = e
}

func (s *Service) executorFor(destinationID string) (Executor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executors[destinationID]
	return e, ok
}

// Alerts exposes the DAO for retention jobs and read APIs.
func (s *Service) Alerts() AlertDAO {
	return s.alerts
}

// RunCycle evaluates every trigger of one monitor, dispatches eligible
// actions and persists the resulting alert snapshots. Triggers are
// evaluated sequentially; actions within one trigger dispatch
// concurrently, each under the configured timeout.
func (s *Service) RunCycle(ctx context.Context, m monitor.Monitor) error {
	now := s.clock.Now().UTC()
	s.diag.StartingCycle(m.ID)

	s.mu.Lock()
	periodStart := s.lastCycle[m.ID]
	s.lastCycle[m.ID] = now
	s.mu.Unlock()
	if periodStart.IsZero() {
		periodStart = now
	}

	results, queryErr := s.Queries.Query(ctx, m.Inputs, periodStart, now)
	if queryErr != nil {
		s.diag.Error("monitor query failed", queryErr, keyvalue.KV("monitor", m.ID))
	}

	var firstErr error
	for _, t := range m.Triggers {
		if err := s.runTrigger(ctx, m, t, results, queryErr, periodStart, now); err != nil {
			s.diag.Error("trigger cycle failed", err,
				keyvalue.KV("monitor", m.ID),
				keyvalue.KV("trigger", t.ID),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// actionOutcome is what one cycle decided and observed for one action.
type actionOutcome struct {
	action    monitor.Action
	throttled bool
	executed  bool
	err       error
}

func (s *Service) runTrigger(ctx context.Context, m monitor.Monitor, t monitor.Trigger, results []map[string]interface{}, queryErr error, periodStart, now time.Time) error {
	ec := &alert.EvalContext{
		Monitor:     m,
		Trigger:     t,
		Results:     results,
		PeriodStart: periodStart,
		PeriodEnd:   now,
	}
	prior, _, err := s.alerts.Active(m.ID, t.ID)
	if err == nil {
		ec.Prior = &prior
	} else if err != ErrNoAlertExists {
		return err
	}

	var triggered bool
	evalErr := queryErr
	if evalErr == nil {
		triggered, evalErr = s.Evaluator.EvalTrigger(ctx, ec)
	}

	// Decide and dispatch off this snapshot; bookkeeping is re-applied on
	// a fresh snapshot at write-back so a racing writer cannot be lost.
	preview := s.tracker.Evaluate(ec, triggered, evalErr, now)
	if preview == nil {
		return nil
	}

	var outcomes []actionOutcome
	if alert.ActionsRunnable(preview) {
		ledger := alert.NewLedger(preview)
		runnable, throttled := ledger.Partition(t.Actions, now)
		for _, a := range throttled {
			s.diag.ActionThrottled(preview.ID, a.ID)
			outcomes = append(outcomes, actionOutcome{action: a, throttled: true})
		}
		outcomes = append(outcomes, s.dispatch(ctx, ec, preview, runnable, now)...)
	}

	return s.writeBack(ec, triggered, evalErr, outcomes, now)
}

// dispatch runs the eligible actions concurrently, each as its own unit of
// work with a bounded timeout, and reports per-action outcomes.
func (s *Service) dispatch(ctx context.Context, ec *alert.EvalContext, a *alert.Alert, runnable []monitor.Action, now time.Time) []actionOutcome {
	outcomes := make([]actionOutcome, len(runnable))
	var wg sync.WaitGroup
	for i, action := range runnable {
		wg.Add(1)
		go func(i int, action monitor.Action) {
			defer wg.Done()
			err := s.execute(ctx, ec, a, action, now)
			outcomes[i] = actionOutcome{
				action:   action,
				executed: err == nil,
				err:      err,
			}
			if err != nil {
				s.diag.ActionFailed(a.ID, action.ID, err)
			} else {
				s.diag.ActionExecuted(a.ID, action.ID)
			}
		}(i, action)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) execute(ctx context.Context, ec *alert.EvalContext, a *alert.Alert, action monitor.Action, now time.Time) error {
	e, ok := s.executorFor(action.DestinationID)
	if !ok {
		return &ExecutorError{
			ActionID:      action.ID,
			DestinationID: action.DestinationID,
			Err:           errors.New("no executor registered for destination"),
		}
	}

	data := ec.TemplateData()
	var subject string
	if action.SubjectTemplate != nil {
		var err error
		if subject, err = s.Renderer.Render(*action.SubjectTemplate, data); err != nil {
			return &ExecutorError{ActionID: action.ID, DestinationID: action.DestinationID, Err: err}
		}
	}
	message, err := s.Renderer.Render(action.MessageTemplate, data)
	if err != nil {
		return &ExecutorError{ActionID: action.ID, DestinationID: action.DestinationID, Err: err}
	}

	tctx, cancel := context.WithTimeout(ctx, time.Duration(s.c.ActionTimeout))
	defer cancel()
	err = e.Execute(tctx, Notification{
		AlertID:       a.ID,
		MonitorID:     ec.Monitor.ID,
		MonitorName:   ec.Monitor.Name,
		TriggerID:     ec.Trigger.ID,
		TriggerName:   ec.Trigger.Name,
		Severity:      ec.Trigger.Severity,
		ActionID:      action.ID,
		ActionName:    action.Name,
		DestinationID: action.DestinationID,
		Subject:       subject,
		Message:       message,
		Time:          now,
	})
	if err != nil {
		return &ExecutorError{ActionID: action.ID, DestinationID: action.DestinationID, Err: err}
	}
	return nil
}

// writeBack persists the cycle's transition and ledger bookkeeping. Each
// attempt re-reads the alert so an acknowledgment racing with this cycle
// is folded in rather than overwritten; losing the version race schedules
// another attempt with backoff.
func (s *Service) writeBack(ec *alert.EvalContext, triggered bool, evalErr error, outcomes []actionOutcome, now time.Time) error {
	op := func() error {
		prior, version, err := s.alerts.Active(ec.Monitor.ID, ec.Trigger.ID)
		if err == nil {
			ec.Prior = &prior
		} else if err == ErrNoAlertExists {
			ec.Prior = nil
			version = storage.NewVersion
		} else {
			return backoff.Permanent(err)
		}

		next := s.tracker.Evaluate(ec, triggered, evalErr, now)
		if next == nil {
			return nil
		}
		ledger := alert.NewLedger(next)
		for _, o := range outcomes {
			switch {
			case o.throttled:
				ledger.RecordThrottled(o.action.ID)
			case o.executed:
				ledger.RecordExecution(o.action.ID, now)
			default:
				ledger.RecordFailure(o.action.Name, o.action.ID, o.err, now)
			}
		}

		if _, err := s.alerts.Put(*next, version); err != nil {
			if stderrors.Is(err, storage.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		if ec.Prior == nil || ec.Prior.State != next.State {
			from := "none"
			if ec.Prior != nil {
				from = ec.Prior.State.String()
			}
			s.diag.AlertStateChange(next.ID, from, next.State.String())
		}
		return nil
	}
	return backoff.Retry(op, s.retryPolicy())
}

func (s *Service) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(s.c.RetryInitialInterval)
	return backoff.WithMaxRetries(b, uint64(s.c.MaxVersionRetries))
}

// Acknowledge moves a batch of alerts under one monitor to ACKNOWLEDGED.
// Each id is handled independently: unknown ids are reported as missing,
// refusals as not acknowledged; neither aborts the rest. Re-acknowledging
// an already acknowledged alert is a no-op success.
func (s *Service) Acknowledge(req AcknowledgeRequest) (AcknowledgeResponse, error) {
	var resp AcknowledgeResponse
	for _, alertID := range req.AlertIDs {
		now := s.clock.Now().UTC()
		acked, err := s.acknowledgeOne(req.MonitorID, alertID, now)
		switch {
		case err == ErrNoAlertExists:
			resp.Missing = append(resp.Missing, alertID)
		case stderrors.Is(err, alert.ErrNotAcknowledgeable):
			a, _, getErr := s.alerts.Get(req.MonitorID, alertID)
			if getErr != nil {
				return resp, getErr
			}
			resp.NotAcknowledged = append(resp.NotAcknowledged, a)
		case err != nil:
			return resp, err
		default:
			s.diag.AcknowledgedAlert(req.MonitorID, alertID)
			resp.Acknowledged = append(resp.Acknowledged, *acked)
		}
	}
	return resp, nil
}

func (s *Service) acknowledgeOne(monitorID, alertID string, now time.Time) (*alert.Alert, error) {
	var acked *alert.Alert
	op := func() error {
		a, version, err := s.alerts.Get(monitorID, alertID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next, err := s.tracker.Acknowledge(&a, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		if a.State == alert.StateAcknowledged {
			// Already acknowledged: nothing to write.
			acked = next
			return nil
		}
		if _, err := s.alerts.Put(*next, version); err != nil {
			if stderrors.Is(err, storage.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		acked = next
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy()); err != nil {
		return nil, err
	}
	return acked, nil
}

// ExpireAlert tombstones one alert for retention cleanup.
func (s *Service) ExpireAlert(monitorID, alertID string) error {
	now := s.clock.Now().UTC()
	op := func() error {
		a, version, err := s.alerts.Get(monitorID, alertID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if a.State == alert.StateDeleted {
			return nil
		}
		next := s.tracker.Delete(&a, now)
		if _, err := s.alerts.Put(*next, version); err != nil {
			if stderrors.Is(err, storage.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		s.diag.AlertStateChange(alertID, a.State.String(), next.State.String())
		return nil
	}
	return backoff.Retry(op, s.retryPolicy())
}
