// Package toml adds types for fields that the TOML parser does not handle
// natively, usable with any decoder that honors encoding.TextUnmarshaler.
package toml

import "time"

// Duration is a time.Duration that (un)marshals as a duration string,
// e.g. "30s" or "5m".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
