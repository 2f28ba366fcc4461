package objwatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Tick before the warm-up deadline.
	ErrNotReady = errors.New("objwatch: warming up")
	// ErrBusy is returned by Tick while another pass is still running.
	ErrBusy = errors.New("objwatch: previous tick still running")
)

// ConfigError is a fatal start-up problem. The watcher is not created when one occurs.
type ConfigError struct {
	Section string
	Field   string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	switch {
	case e.Section != "" && e.Field != "":
		return fmt.Sprintf("configuration error in section '%s', field '%s': %s", e.Section, e.Field, msg)
	case e.Field != "":
		return fmt.Sprintf("configuration error in field '%s': %s", e.Field, msg)
	default:
		return fmt.Sprintf("configuration error: %s", msg)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(section, field, reason string, err error) *ConfigError {
	return &ConfigError{Section: section, Field: field, Reason: reason, Err: err}
}
