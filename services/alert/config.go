package alert

import (
	"fmt"
	"time"

	"github.com/qreshi/opensearch-alerting/toml"
)

type Config struct {
	// ActionTimeout bounds a single notification dispatch.
	ActionTimeout toml.Duration `toml:"action-timeout"`
	// MaxVersionRetries is how many times a cycle write-back is retried
	// after losing a version race against a concurrent writer.
	MaxVersionRetries int `toml:"max-version-retries"`
	// RetryInitialInterval is the starting backoff between such retries.
	RetryInitialInterval toml.Duration `toml:"retry-initial-interval"`
	// Destinations configure where notifications can be delivered.
	Destinations []DestinationSpec `toml:"destination"`
}

func NewConfig() Config {
	return Config{
		ActionTimeout:        toml.Duration(30 * time.Second),
		MaxVersionRetries:    5,
		RetryInitialInterval: toml.Duration(50 * time.Millisecond),
	}
}

func (c Config) Validate() error {
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("action-timeout must be positive, got %v", c.ActionTimeout)
	}
	if c.MaxVersionRetries < 0 {
		return fmt.Errorf("max-version-retries must not be negative, got %d", c.MaxVersionRetries)
	}
	if c.RetryInitialInterval <= 0 {
		return fmt.Errorf("retry-initial-interval must be positive, got %v", c.RetryInitialInterval)
	}
	seen := make(map[string]bool, len(c.Destinations))
	for _, d := range c.Destinations {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate destination id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}
