// Package fault classifies errors by how the caller must react.
//
// Fatal errors signal a structural invariant violation or broken
// configuration; the session cannot safely continue. Recoverable errors
// degrade a single cycle or data source, and the next trigger proceeds.
package fault

import (
	"errors"
	"fmt"
)

// Severity is the reaction contract attached to a classified error.
type Severity int32

const (
	SeverityRecoverable Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classified is implemented by errors that carry an explicit severity.
type Classified interface {
	error
	Severity() Severity
}

// IsFatal reports whether err (or anything in its chain) is classified
// fatal. Unclassified errors are treated as recoverable: only errors that
// explicitly declare themselves fatal may abort a session.
func IsFatal(err error) bool {
	var c Classified
	if errors.As(err, &c) {
		return c.Severity() == SeverityFatal
	}
	return false
}

// IsRecoverable reports whether err is non-nil and not fatal.
func IsRecoverable(err error) bool {
	return err != nil && !IsFatal(err)
}

// ConfigurationError marks an invalid or incomplete session configuration,
// raised by session and risk-parameter loading. A misconfigured session
// must not start, so it is always fatal.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Severity() Severity { return SeverityFatal }
