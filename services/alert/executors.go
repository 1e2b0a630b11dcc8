package alert

import (
	"context"
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Notification is a rendered message on its way to a destination.
type Notification struct {
	AlertID       string    `json:"alert_id"`
	MonitorID     string    `json:"monitor_id"`
	MonitorName   string    `json:"monitor_name"`
	TriggerID     string    `json:"trigger_id"`
	TriggerName   string    `json:"trigger_name"`
	Severity      string    `json:"severity"`
	ActionID      string    `json:"action_id"`
	ActionName    string    `json:"action_name"`
	DestinationID string    `json:"destination_id"`
	Subject       string    `json:"subject,omitempty"`
	Message       string    `json:"message"`
	Time          time.Time `json:"time"`
}

// Executor delivers a notification to one destination. Implementations
// must honor the context deadline; a timed-out dispatch counts as a
// failure and does not consume the action's cooldown.
type Executor interface {
	Execute(ctx context.Context, n Notification) error
}

// ExecutorError is a failed or timed-out dispatch. It is recorded in the
// alert history and surfaced through the diagnostic, never treated as a
// throttled skip.
type ExecutorError struct {
	ActionID      string
	DestinationID string
	Err           error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("action %s to destination %s: %v", e.ActionID, e.DestinationID, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// DestinationSpec names an executor kind and its options, as configured.
type DestinationSpec struct {
	ID      string                 `toml:"id" json:"id"`
	Kind    string                 `toml:"kind" json:"kind"`
	Options map[string]interface{} `toml:"options" json:"options"`
}

func (s DestinationSpec) Validate() error {
	if s.ID == "" {
		return errors.New("destination id must not be empty")
	}
	if s.Kind == "" {
		return errors.New("destination kind must not be empty")
	}
	return nil
}

func (s *Service) createExecutorFromSpec(spec DestinationSpec) (Executor, error) {
	switch spec.Kind {
	case "log":
		c := DefaultLogExecutorConfig()
		if err := decodeOptions(spec.Options, &c); err != nil {
			return nil, err
		}
		return NewLogExecutor(c)
	default:
		return nil, fmt.Errorf("unsupported destination kind %q", spec.Kind)
	}
}

func decodeOptions(options map[string]interface{}, c interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      c,
		DecodeHook:  decodeStringToTextUnmarshaler,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize mapstructure decoder")
	}
	if err := dec.Decode(options); err != nil {
		return errors.Wrapf(err, "failed to decode options into %T", c)
	}
	return nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// decodeStringToTextUnmarshaler will decode a string value into any type
// that implements the encoding.TextUnmarshaler interface.
func decodeStringToTextUnmarshaler(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	isPtr := true
	if t.Kind() != reflect.Ptr {
		isPtr = false
		t = reflect.PtrTo(t)
	}
	if t.Implements(textUnmarshalerType) {
		value := reflect.New(t.Elem())
		tum := value.Interface().(encoding.TextUnmarshaler)
		str := data.(string)
		err := tum.UnmarshalText([]byte(str))
		if err != nil {
			return nil, err
		}

		if isPtr {
			return value.Interface(), nil
		}
		return reflect.Indirect(value).Interface(), nil
	}
	return data, nil
}

// Default file mode for notification logs
const defaultLogFileMode = 0600

// LogExecutorConfig configures the built-in executor that appends
// notifications to a local file as JSON lines. Real delivery transports
// live outside this module; the log executor exists for operations and
// tests.
type LogExecutorConfig struct {
	Path string      `mapstructure:"path"`
	Mode os.FileMode `mapstructure:"mode"`
}

func DefaultLogExecutorConfig() LogExecutorConfig {
	return LogExecutorConfig{
		Mode: defaultLogFileMode,
	}
}

func (c LogExecutorConfig) Validate() error {
	if c.Mode.Perm()&0200 == 0 {
		return fmt.Errorf("invalid file mode %v, must be user writable", c.Mode)
	}
	if !filepath.IsAbs(c.Path) {
		return fmt.Errorf("log path must be absolute: %s is not absolute", c.Path)
	}
	return nil
}

type logExecutor struct {
	logpath string
	mode    os.FileMode
}

func NewLogExecutor(c LogExecutorConfig) (Executor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &logExecutor{
		logpath: c.Path,
		mode:    c.Mode,
	}, nil
}

func (e *logExecutor) Execute(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(e.logpath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, e.mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s for notification logging", e.logpath)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(n)
}
