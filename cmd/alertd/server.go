package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/monitor"
	alertservice "github.com/qreshi/opensearch-alerting/services/alert"
	"github.com/qreshi/opensearch-alerting/services/diagnostic"
	"github.com/qreshi/opensearch-alerting/services/scheduler"
	"github.com/qreshi/opensearch-alerting/services/storage"
	bolt "go.etcd.io/bbolt"
)

// Server assembles the services and manages their lifecycle. Services are
// opened in dependency order and closed in reverse.
type Server struct {
	config Config

	diag      *diagnostic.Service
	db        *bolt.DB
	alerts    *alertservice.Service
	scheduler *scheduler.Service
}

func NewServer(c Config) *Server {
	return &Server{config: c}
}

type boltStorage struct {
	db *bolt.DB
}

func (s boltStorage) Store(namespace string) storage.Interface {
	return storage.NewBolt(s.db, namespace)
}

func (s *Server) Open() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.diag = diagnostic.NewService(s.config.Logging)
	if err := s.diag.Open(); err != nil {
		return errors.Wrap(err, "failed to open diagnostic service")
	}

	if err := os.MkdirAll(s.config.DataDir, 0700); err != nil {
		return errors.Wrapf(err, "failed to create data dir %q", s.config.DataDir)
	}
	db, err := bolt.Open(s.config.databasePath(), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return errors.Wrapf(err, "failed to open database %q", s.config.databasePath())
	}
	s.db = db

	s.alerts = alertservice.NewService(s.config.Alert, s.diag.NewAlertHandler())
	s.alerts.StorageService = boltStorage{db: db}
	s.alerts.Queries = echoQuery{}
	s.alerts.Evaluator = templateEvaluator{}
	s.alerts.Renderer = templateRenderer{}
	if err := s.alerts.Open(); err != nil {
		return errors.Wrap(err, "failed to open alert service")
	}

	s.scheduler = scheduler.NewService(s.config.Scheduler, s.diag.NewSchedulerHandler())
	s.scheduler.Runner = s.alerts
	if err := s.scheduler.Open(); err != nil {
		return errors.Wrap(err, "failed to open scheduler")
	}

	return s.loadMonitors()
}

// loadMonitors parses every JSON monitor definition in the monitor dir and
// schedules it. A bad definition fails startup rather than being skipped
// silently.
func (s *Server) loadMonitors() error {
	if s.config.MonitorDir == "" {
		return nil
	}
	paths, err := filepath.Glob(filepath.Join(s.config.MonitorDir, "*.json"))
	if err != nil {
		return err
	}
	ids := monitor.UUIDGenerator{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read monitor definition %q", path)
		}
		m, err := monitor.ParseMonitor(data, ids)
		if err != nil {
			return errors.Wrapf(err, "invalid monitor definition %q", path)
		}
		if err := s.scheduler.Register(m); err != nil {
			return errors.Wrapf(err, "failed to schedule monitor %q", path)
		}
	}
	return nil
}

func (s *Server) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.scheduler != nil {
		keep(s.scheduler.Close())
	}
	if s.alerts != nil {
		keep(s.alerts.Close())
	}
	if s.db != nil {
		keep(s.db.Close())
	}
	if s.diag != nil {
		keep(s.diag.Close())
	}
	return firstErr
}
