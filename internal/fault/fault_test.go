package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/IggyIkenna/basis-strategy-v1-sub001/internal/fault"
)

type classifiedErr struct {
	msg string
	sev fault.Severity
}

func (e *classifiedErr) Error() string            { return e.msg }
func (e *classifiedErr) Severity() fault.Severity { return e.sev }

func TestIsFatal_ClassifiedFatal(t *testing.T) {
	err := &classifiedErr{msg: "undeclared key", sev: fault.SeverityFatal}
	if !fault.IsFatal(err) {
		t.Error("expected fatal classification")
	}
	if fault.IsRecoverable(err) {
		t.Error("fatal error must not be recoverable")
	}
}

func TestIsFatal_ClassifiedRecoverable(t *testing.T) {
	err := &classifiedErr{msg: "venue timeout", sev: fault.SeverityRecoverable}
	if fault.IsFatal(err) {
		t.Error("recoverable error classified as fatal")
	}
	if !fault.IsRecoverable(err) {
		t.Error("expected recoverable classification")
	}
}

func TestIsFatal_SurvivesWrapping(t *testing.T) {
	inner := &classifiedErr{msg: "bad config", sev: fault.SeverityFatal}
	wrapped := fmt.Errorf("startup: %w", inner)
	if !fault.IsFatal(wrapped) {
		t.Error("fatal classification lost through %w wrapping")
	}
}

func TestIsFatal_UnclassifiedDefaultsRecoverable(t *testing.T) {
	err := errors.New("plain error")
	if fault.IsFatal(err) {
		t.Error("unclassified error treated as fatal")
	}
	if !fault.IsRecoverable(err) {
		t.Error("unclassified non-nil error should be recoverable")
	}
}

func TestIsRecoverable_NilIsNeither(t *testing.T) {
	if fault.IsRecoverable(nil) {
		t.Error("nil error reported recoverable")
	}
	if fault.IsFatal(nil) {
		t.Error("nil error reported fatal")
	}
}

func TestConfigurationErrorIsFatal(t *testing.T) {
	err := &fault.ConfigurationError{Field: "subscriptions", Reason: "empty"}
	wrapped := fmt.Errorf("load session: %w", err)
	if !fault.IsFatal(wrapped) {
		t.Error("configuration error must classify fatal")
	}
	want := "configuration error: subscriptions: empty"
	if got := err.Error(); got != want {
		t.Errorf("Error(): got %q, want %q", got, want)
	}
}

func TestSeverityString(t *testing.T) {
	cases := []struct {
		sev  fault.Severity
		want string
	}{
		{fault.SeverityRecoverable, "recoverable"},
		{fault.SeverityFatal, "fatal"},
		{fault.Severity(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.sev.String(); got != tc.want {
			t.Errorf("Severity(%d).String(): got %q, want %q", tc.sev, got, tc.want)
		}
	}
}
