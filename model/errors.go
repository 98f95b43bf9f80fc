package model

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every ConfigError with errors.Is.
var ErrConfig = errors.New("configuration error")

// ConfigError is a fatal model or scenario definition problem:
// undeclared fault mode, unknown qualitative class,
// injection time out of range, empty phase.
type ConfigError struct {
	Subject string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Configf builds a ConfigError with a formatted reason.
func Configf(subject, format string, args ...any) error {
	return &ConfigError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// PostConditionError is raised when a block leaves
// a flow attribute unset after its behavior update.
type PostConditionError struct {
	Block     string
	Flow      string
	Attribute string
	Time      float64
}

func (e *PostConditionError) Error() string {
	return fmt.Sprintf("post-condition violated at t=%g: %s left %s.%s unset",
		e.Time, e.Block, e.Flow, e.Attribute)
}
