package alert_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/alert"
	"github.com/qreshi/opensearch-alerting/keyvalue"
	"github.com/qreshi/opensearch-alerting/monitor"
	alertservice "github.com/qreshi/opensearch-alerting/services/alert"
	"github.com/qreshi/opensearch-alerting/services/storage"
)

type nopDiag struct{}

func (nopDiag) Error(msg string, err error, ctx ...keyvalue.T)            {}
func (nopDiag) StartingCycle(monitorID string)                            {}
func (nopDiag) AlertStateChange(alertID string, from, to string)          {}
func (nopDiag) ActionExecuted(alertID, actionID string)                   {}
func (nopDiag) ActionThrottled(alertID, actionID string)                  {}
func (nopDiag) ActionFailed(alertID, actionID string, err error)          {}
func (nopDiag) AcknowledgedAlert(monitorID, alertID string)               {}

type memStorage struct{}

func (memStorage) Store(namespace string) storage.Interface {
	return storage.NewMemStore(namespace)
}

type staticQuery struct {
	results []map[string]interface{}
	err     error
}

func (q staticQuery) Query(ctx context.Context, inputs []json.RawMessage, periodStart, periodEnd time.Time) ([]map[string]interface{}, error) {
	return q.results, q.err
}

type evalFunc func(ec *alert.EvalContext) (bool, error)

func (f evalFunc) EvalTrigger(ctx context.Context, ec *alert.EvalContext) (bool, error) {
	return f(ec)
}

func evalConst(triggered bool) evalFunc {
	return func(*alert.EvalContext) (bool, error) { return triggered, nil }
}

type passRenderer struct{}

func (passRenderer) Render(s monitor.Script, data map[string]interface{}) (string, error) {
	return s.Source, nil
}

type recordingExecutor struct {
	mu    sync.Mutex
	err   error
	sends []alertservice.Notification
}

func (e *recordingExecutor) Execute(ctx context.Context, n alertservice.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sends = append(e.sends, n)
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sends)
}

type seqIDs struct {
	n int
}

func (g *seqIDs) ID() string {
	g.n++
	return string(rune('a'-1+g.n)) + "-id"
}

func testMonitor() monitor.Monitor {
	return monitor.Monitor{
		ID:      "m-1",
		Version: 3,
		Name:    "disk usage",
		Enabled: true,
		Triggers: []monitor.Trigger{{
			ID:        "t-1",
			Name:      "disk above 80%",
			Severity:  "2",
			Condition: monitor.NewTemplate("{{#gt}}{{ctx.results.0.hits}}{{/gt}}"),
			Actions: []monitor.Action{{
				ID:              "a-1",
				Name:            "notify ops",
				DestinationID:   "d-1",
				MessageTemplate: monitor.NewTemplate("{{ctx.monitor.name}} fired"),
				ThrottleEnabled: true,
				Throttle:        &monitor.Throttle{Value: 5, Unit: monitor.Minutes},
			}},
		}},
	}
}

func newTestService(t *testing.T, triggered bool) (*alertservice.Service, *recordingExecutor, *bclock.Mock) {
	t.Helper()
	s := alertservice.NewService(alertservice.NewConfig(), nopDiag{})
	s.StorageService = memStorage{}
	s.Queries = staticQuery{results: []map[string]interface{}{{"hits": 81.0}}}
	s.Evaluator = evalConst(triggered)
	s.Renderer = passRenderer{}
	s.IDGenerator = &seqIDs{}

	mock := bclock.NewMock()
	mock.Set(time.Date(2021, 3, 4, 5, 0, 0, 0, time.UTC))
	s.WithClock(mock)

	if err := s.Open(); err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	exec := &recordingExecutor{}
	s.RegisterExecutor("d-1", exec)
	return s, exec, mock
}

func activeAlert(t *testing.T, s *alertservice.Service, m monitor.Monitor) alert.Alert {
	t.Helper()
	a, _, err := s.Alerts().Active(m.ID, m.Triggers[0].ID)
	if err != nil {
		t.Fatalf("expected active alert: %v", err)
	}
	return a
}

func TestService_ThrottleWindow(t *testing.T) {
	s, exec, mock := newTestService(t, true)
	m := testMonitor()

	// First cycle creates the alert and fires the action.
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := exec.count(); got != 1 {
		t.Fatalf("executions after first cycle: got %d, want 1", got)
	}
	start := mock.Now().UTC()
	a := activeAlert(t, s, m)
	if a.State != alert.StateActive {
		t.Fatalf("state after first cycle: got %v, want ACTIVE", a.State)
	}
	res := a.ActionResults["a-1"]
	if res == nil || res.LastExecutionTime == nil {
		t.Fatal("expected execution time recorded for a-1")
	}
	if !res.LastExecutionTime.Equal(start) {
		t.Errorf("last execution time: got %v, want %v", res.LastExecutionTime, start)
	}
	if res.ThrottledCount != 0 {
		t.Errorf("throttled count after first cycle: got %d, want 0", res.ThrottledCount)
	}

	// Two minutes later the window still holds: the action is skipped and
	// the skip is counted, but the anchor does not move.
	mock.Add(2 * time.Minute)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := exec.count(); got != 1 {
		t.Fatalf("executions after throttled cycle: got %d, want 1", got)
	}
	a = activeAlert(t, s, m)
	res = a.ActionResults["a-1"]
	if res.ThrottledCount != 1 {
		t.Errorf("throttled count: got %d, want 1", res.ThrottledCount)
	}
	if !res.LastExecutionTime.Equal(start) {
		t.Errorf("throttled skip moved the execution time to %v", res.LastExecutionTime)
	}

	// Past the window the action fires again; the skip counter is
	// cumulative and keeps its value.
	mock.Add(5 * time.Minute)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if got := exec.count(); got != 2 {
		t.Fatalf("executions after window expired: got %d, want 2", got)
	}
	a = activeAlert(t, s, m)
	res = a.ActionResults["a-1"]
	if res.ThrottledCount != 1 {
		t.Errorf("throttled count after re-fire: got %d, want 1", res.ThrottledCount)
	}
	if !res.LastExecutionTime.Equal(mock.Now().UTC()) {
		t.Errorf("last execution time not re-anchored: got %v", res.LastExecutionTime)
	}
}

func TestService_FailedDispatchDoesNotConsumeCooldown(t *testing.T) {
	s, exec, mock := newTestService(t, true)
	m := testMonitor()

	exec.err = errors.New("dial timeout")
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("cycle with failing executor: %v", err)
	}
	a := activeAlert(t, s, m)
	res := a.ActionResults["a-1"]
	if res == nil {
		t.Fatal("expected an execution record for a-1")
	}
	if res.LastExecutionTime != nil {
		t.Errorf("failed dispatch set an execution time: %v", res.LastExecutionTime)
	}
	if res.ThrottledCount != 0 {
		t.Errorf("failed dispatch counted as throttled: %d", res.ThrottledCount)
	}
	if len(a.History) == 0 {
		t.Error("expected a history entry for the failed dispatch")
	}

	// The very next cycle retries: no cooldown was consumed.
	exec.err = nil
	mock.Add(time.Minute)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if got := exec.count(); got != 1 {
		t.Errorf("executions after retry: got %d, want 1", got)
	}
}

type slowExecutor struct {
	delay time.Duration
}

func (e slowExecutor) Execute(ctx context.Context, n alertservice.Notification) error {
	select {
	case <-time.After(e.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestService_DispatchTimeoutIsAFailure(t *testing.T) {
	m := testMonitor()

	// Dispatch runs under the real clock; use a tiny timeout so the slow
	// executor misses it.
	c := alertservice.NewConfig()
	c.ActionTimeout = 1 // 1ns
	slow := alertservice.NewService(c, nopDiag{})
	slow.StorageService = memStorage{}
	slow.Queries = staticQuery{results: []map[string]interface{}{{"hits": 81.0}}}
	slow.Evaluator = evalConst(true)
	slow.Renderer = passRenderer{}
	slow.IDGenerator = &seqIDs{}
	if err := slow.Open(); err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { slow.Close() })
	slow.RegisterExecutor("d-1", slowExecutor{delay: time.Second})

	if err := slow.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	a, _, err := slow.Alerts().Active(m.ID, m.Triggers[0].ID)
	if err != nil {
		t.Fatalf("active alert: %v", err)
	}
	res := a.ActionResults["a-1"]
	if res == nil {
		t.Fatal("expected an execution record for a-1")
	}
	// A timed out dispatch is a failure: no cooldown consumed, no skip
	// counted, a history entry written.
	if res.LastExecutionTime != nil {
		t.Errorf("timeout set an execution time: %v", res.LastExecutionTime)
	}
	if res.ThrottledCount != 0 {
		t.Errorf("timeout counted as throttled: %d", res.ThrottledCount)
	}
	if len(a.History) == 0 {
		t.Error("expected a history entry for the timed out dispatch")
	}
}

func TestService_ConditionFalseCompletes(t *testing.T) {
	s, _, _ := newTestService(t, true)
	m := testMonitor()

	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	a := activeAlert(t, s, m)

	s.Evaluator = evalConst(false)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("resolving cycle: %v", err)
	}
	got, _, err := s.Alerts().Get(m.ID, a.ID)
	if err != nil {
		t.Fatalf("get resolved alert: %v", err)
	}
	if got.State != alert.StateCompleted {
		t.Errorf("state: got %v, want COMPLETED", got.State)
	}
	if got.EndTime == nil {
		t.Error("expected end time on completed alert")
	}

	// No active alert remains, and a quiet cycle creates nothing.
	if _, _, err := s.Alerts().Active(m.ID, m.Triggers[0].ID); err != alertservice.ErrNoAlertExists {
		t.Errorf("expected no active alert, got err %v", err)
	}
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("quiet cycle: %v", err)
	}
	alerts, err := s.Alerts().List(m.ID)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("alerts under monitor: got %d, want 1", len(alerts))
	}
}

func TestService_EvalErrorSuppressesActions(t *testing.T) {
	s, exec, _ := newTestService(t, true)
	m := testMonitor()

	s.Evaluator = evalFunc(func(*alert.EvalContext) (bool, error) {
		return false, errors.New("painless compile error")
	})
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("error cycle: %v", err)
	}
	if got := exec.count(); got != 0 {
		t.Errorf("actions dispatched during ERROR cycle: %d", got)
	}
	a := activeAlert(t, s, m)
	if a.State != alert.StateError {
		t.Fatalf("state: got %v, want ERROR", a.State)
	}
	if a.ErrorMessage == "" {
		t.Error("expected error message on ERROR alert")
	}

	// Recovery: the condition holds again and the same alert goes back to
	// ACTIVE with the error cleared.
	s.Evaluator = evalConst(true)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	got := activeAlert(t, s, m)
	if got.ID != a.ID {
		t.Errorf("recovery created a new alert %q, want %q", got.ID, a.ID)
	}
	if got.State != alert.StateActive {
		t.Errorf("state after recovery: got %v, want ACTIVE", got.State)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message not cleared: %q", got.ErrorMessage)
	}
}

func TestService_AcknowledgeSuppressesActions(t *testing.T) {
	s, exec, mock := newTestService(t, true)
	m := testMonitor()

	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	a := activeAlert(t, s, m)

	resp, err := s.Acknowledge(alertservice.AcknowledgeRequest{
		MonitorID: m.ID,
		AlertIDs:  []string{a.ID},
	})
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if len(resp.Acknowledged) != 1 || resp.Acknowledged[0].ID != a.ID {
		t.Fatalf("acknowledged: got %+v", resp.Acknowledged)
	}
	if resp.Acknowledged[0].AcknowledgedTime == nil {
		t.Error("expected acknowledged time set")
	}

	// ACKNOWLEDGED stays in the active slot, but actions no longer fire.
	mock.Add(10 * time.Minute)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("post-ack cycle: %v", err)
	}
	if got := exec.count(); got != 1 {
		t.Errorf("executions after ack: got %d, want 1", got)
	}
	got := activeAlert(t, s, m)
	if got.State != alert.StateAcknowledged {
		t.Errorf("state after post-ack cycle: got %v, want ACKNOWLEDGED", got.State)
	}

	// The acknowledged alert still completes when the condition clears.
	s.Evaluator = evalConst(false)
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("resolving cycle: %v", err)
	}
	final, _, err := s.Alerts().Get(m.ID, a.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if final.State != alert.StateCompleted {
		t.Errorf("state: got %v, want COMPLETED", final.State)
	}
}

func TestService_AcknowledgeBatch(t *testing.T) {
	s, _, _ := newTestService(t, true)
	m := testMonitor()

	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	active := activeAlert(t, s, m)

	// Park a second alert in ERROR state so the batch has a refusal.
	errored := active
	errored.ID = "z-id"
	errored.State = alert.StateError
	errored.ErrorMessage = "broken"
	if _, err := s.Alerts().Put(errored, storage.NewVersion); err != nil {
		t.Fatalf("seed errored alert: %v", err)
	}

	resp, err := s.Acknowledge(alertservice.AcknowledgeRequest{
		MonitorID: m.ID,
		AlertIDs:  []string{active.ID, "z-id", "no-such-id"},
	})
	if err != nil {
		t.Fatalf("acknowledge batch: %v", err)
	}
	if len(resp.Acknowledged) != 1 || resp.Acknowledged[0].ID != active.ID {
		t.Errorf("acknowledged: got %+v", resp.Acknowledged)
	}
	if len(resp.NotAcknowledged) != 1 || resp.NotAcknowledged[0].ID != "z-id" {
		t.Errorf("not acknowledged: got %+v", resp.NotAcknowledged)
	}
	if len(resp.Missing) != 1 || resp.Missing[0] != "no-such-id" {
		t.Errorf("missing: got %+v", resp.Missing)
	}

	// Re-acknowledging is a no-op success with the original time.
	first := resp.Acknowledged[0].AcknowledgedTime
	again, err := s.Acknowledge(alertservice.AcknowledgeRequest{
		MonitorID: m.ID,
		AlertIDs:  []string{active.ID},
	})
	if err != nil {
		t.Fatalf("re-acknowledge: %v", err)
	}
	if len(again.Acknowledged) != 1 {
		t.Fatalf("re-acknowledge response: %+v", again)
	}
	if got := again.Acknowledged[0].AcknowledgedTime; got == nil || !got.Equal(*first) {
		t.Errorf("acknowledged time changed on duplicate ack: got %v, want %v", got, first)
	}
}

func TestService_ExpireAlert(t *testing.T) {
	s, _, _ := newTestService(t, true)
	m := testMonitor()

	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	a := activeAlert(t, s, m)

	if err := s.ExpireAlert(m.ID, a.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _, err := s.Alerts().Get(m.ID, a.ID)
	if err != nil {
		t.Fatalf("get expired alert: %v", err)
	}
	if got.State != alert.StateDeleted {
		t.Errorf("state: got %v, want DELETED", got.State)
	}

	// Tombstones refuse acknowledgment.
	resp, err := s.Acknowledge(alertservice.AcknowledgeRequest{
		MonitorID: m.ID,
		AlertIDs:  []string{a.ID},
	})
	if err != nil {
		t.Fatalf("acknowledge tombstone: %v", err)
	}
	if len(resp.NotAcknowledged) != 1 {
		t.Errorf("expected tombstone in not acknowledged, got %+v", resp)
	}
}

func TestService_QueryErrorBecomesErrorState(t *testing.T) {
	s, exec, _ := newTestService(t, true)
	m := testMonitor()

	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	a := activeAlert(t, s, m)

	s.Queries = staticQuery{err: errors.New("search cluster unreachable")}
	if err := s.RunCycle(context.Background(), m); err != nil {
		t.Fatalf("query error cycle: %v", err)
	}
	got := activeAlert(t, s, m)
	if got.ID != a.ID {
		t.Errorf("query error created a new alert %q", got.ID)
	}
	if got.State != alert.StateError {
		t.Errorf("state: got %v, want ERROR", got.State)
	}
	if c := exec.count(); c != 1 {
		t.Errorf("actions dispatched during query error cycle: %d, want 1 (from first cycle)", c)
	}
}
