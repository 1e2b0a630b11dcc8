package monitor

import "fmt"

// ParseError indicates a malformed or semantically invalid record,
// whether it arrived from a user request or from persisted storage.
// The record is rejected as a whole; no partially parsed value escapes.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(kind string, err error) error {
	return &ParseError{Kind: kind, Err: err}
}

// InvalidConfigError indicates a semantically invalid configuration value.
// It is surfaced to the configuring user and rejects the write.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return e.Reason
}

func invalidConfigf(format string, args ...interface{}) error {
	return &InvalidConfigError{Reason: fmt.Sprintf(format, args...)}
}
