// Package diagnostic provides the structured logging handlers the other
// services emit through. Each service declares the Diagnostic interface it
// needs; this package implements them all on top of a shared zap logger.
package diagnostic

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// File is where log lines go: STDERR, STDOUT or a file path.
	File string `toml:"file"`
	// Level is the minimum level written: DEBUG, INFO, WARN or ERROR.
	Level string `toml:"level"`
}

func NewConfig() Config {
	return Config{
		File:  "STDERR",
		Level: "INFO",
	}
}

func (c Config) Validate() error {
	if c.File == "" {
		return errors.New("diagnostic file must not be empty")
	}
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

type Service struct {
	mu     sync.Mutex
	c      Config
	f      *os.File
	logger *zap.Logger
	level  zap.AtomicLevel
}

func NewService(c Config) *Service {
	return &Service{
		c:     c,
		level: zap.NewAtomicLevel(),
	}
}

func (s *Service) Open() error {
	if err := s.c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sink zapcore.WriteSyncer
	switch s.c.File {
	case "STDERR":
		sink = zapcore.Lock(os.Stderr)
	case "STDOUT":
		sink = zapcore.Lock(os.Stdout)
	default:
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %q", s.c.File)
		}
		s.f = f
		sink = zapcore.Lock(f)
	}

	lvl, err := parseLevel(s.c.Level)
	if err != nil {
		return err
	}
	s.level.SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, s.level)
	s.logger = zap.New(core)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger != nil {
		s.logger.Sync()
		s.logger = nil
	}
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}

// SetLogLevel changes the minimum written level at runtime.
func (s *Service) SetLogLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	s.level.SetLevel(lvl)
	return nil
}

func (s *Service) named(name string) *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger.Named(name)
}

func (s *Service) NewAlertHandler() *AlertHandler {
	return &AlertHandler{l: s.named("alert")}
}

func (s *Service) NewSchedulerHandler() *SchedulerHandler {
	return &SchedulerHandler{l: s.named("scheduler")}
}
