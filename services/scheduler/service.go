// Package scheduler runs registered monitors on their schedules using a
// bounded worker pool. Runs of the same monitor never overlap; a monitor
// that panics or errors is isolated from the rest.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/keyvalue"
	"github.com/qreshi/opensearch-alerting/monitor"
)

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)

	MonitorRegistered(id, name string)
	MonitorDeregistered(id string)
	RunPanicked(monitorID string, recovered interface{})
}

// Runner executes one evaluation cycle for a monitor.
type Runner interface {
	RunCycle(ctx context.Context, m monitor.Monitor) error
}

type entry struct {
	m       monitor.Monitor
	next    time.Time
	running bool
}

type Service struct {
	mu      sync.Mutex
	entries map[string]*entry
	opened  bool

	c     Config
	diag  Diagnostic
	clock clock.Clock

	Runner Runner

	work    chan monitor.Monitor
	closing chan struct{}
	wg      sync.WaitGroup
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		entries: make(map[string]*entry),
		c:       c,
		diag:    d,
		clock:   clock.New(),
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
	if s.Runner == nil {
		return errors.New("scheduler opened without a runner")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return errors.New("scheduler already opened")
	}
	s.opened = true
	s.work = make(chan monitor.Monitor)
	s.closing = make(chan struct{})
	for i := 0; i < s.c.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = false
	close(s.closing)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Register schedules a monitor. Registering an id again replaces the
// monitor and recomputes its next run; a disabled monitor is removed
// instead of scheduled.
func (s *Service) Register(m monitor.Monitor) error {
	if m.ID == "" {
		return errors.New("cannot schedule a monitor without an id")
	}
	if !m.Enabled {
		s.Deregister(m.ID)
		return nil
	}
	if err := m.Schedule.Validate(); err != nil {
		return errors.Wrapf(err, "invalid schedule for monitor %q", m.ID)
	}
	now := s.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[m.ID] = &entry{m: m, next: m.Schedule.Next(now)}
	s.diag.MonitorRegistered(m.ID, m.Name)
	return nil
}

// Deregister removes a monitor from the schedule. Unknown ids are ignored.
// A cycle already in flight finishes; no further runs are dispatched.
func (s *Service) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	s.diag.MonitorDeregistered(id)
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(time.Duration(s.c.Tick))
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			close(s.work)
			return
		case now := <-ticker.C:
			s.dispatchDue(now.UTC())
		}
	}
}

// dispatchDue hands every due, not currently running monitor to the pool
// and advances its next run time. The running flag keeps cycles of one
// monitor from overlapping when a cycle outlasts its schedule interval.
func (s *Service) dispatchDue(now time.Time) {
	s.mu.Lock()
	var due []monitor.Monitor
	for _, e := range s.entries {
		if e.running || e.next.After(now) {
			continue
		}
		e.next = e.m.Schedule.Next(now)
		e.running = true
		due = append(due, e.m)
	}
	s.mu.Unlock()

	for _, m := range due {
		select {
		case s.work <- m:
		case <-s.closing:
			s.finished(m.ID)
			return
		}
	}
}

func (s *Service) finished(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.running = false
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for m := range s.work {
		s.run(m)
		s.finished(m.ID)
	}
}

func (s *Service) run(m monitor.Monitor) {
	defer func() {
		if r := recover(); r != nil {
			s.diag.RunPanicked(m.ID, r)
			s.diag.Error("monitor run panicked", fmt.Errorf("%v", r), keyvalue.KV("monitor", m.ID))
		}
	}()
	if err := s.Runner.RunCycle(context.Background(), m); err != nil {
		s.diag.Error("monitor run failed", err, keyvalue.KV("monitor", m.ID))
	}
}
