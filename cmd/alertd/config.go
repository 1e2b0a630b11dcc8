package main

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	alertservice "github.com/qreshi/opensearch-alerting/services/alert"
	"github.com/qreshi/opensearch-alerting/services/diagnostic"
	"github.com/qreshi/opensearch-alerting/services/scheduler"
)

// Config is the root daemon configuration, one section per service.
type Config struct {
	DataDir    string `toml:"data-dir"`
	MonitorDir string `toml:"monitor-dir"`

	Logging   diagnostic.Config   `toml:"logging"`
	Alert     alertservice.Config `toml:"alert"`
	Scheduler scheduler.Config    `toml:"scheduler"`
}

func NewConfig() Config {
	return Config{
		DataDir:    "./data",
		MonitorDir: "./monitors",
		Logging:    diagnostic.NewConfig(),
		Alert:      alertservice.NewConfig(),
		Scheduler:  scheduler.NewConfig(),
	}
}

// LoadConfig reads a toml config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, errors.Wrapf(err, "config file %q", path)
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data-dir must not be empty")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.Alert.Validate(); err != nil {
		return errors.Wrap(err, "alert")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return errors.Wrap(err, "scheduler")
	}
	return nil
}

func (c Config) databasePath() string {
	return filepath.Join(c.DataDir, "alertd.db")
}
