package scheduler

import (
	"fmt"
	"time"

	"github.com/qreshi/opensearch-alerting/toml"
)

type Config struct {
	// Workers is the number of goroutines running monitor cycles.
	Workers int `toml:"workers"`
	// Tick is how often due monitors are checked for.
	Tick toml.Duration `toml:"tick"`
}

func NewConfig() Config {
	return Config{
		Workers: 4,
		Tick:    toml.Duration(time.Second),
	}
}

func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %v", c.Tick)
	}
	return nil
}
