package validation

import (
	stderrors "errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/vnykmshr/gateflow/pkg/common/errors"
)

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"positive value 1", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
		{"large negative", -1000000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("test", "capacity", tt.value)

			if tt.wantError {
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateFiniteRate(t *testing.T) {
	tests := []struct {
		name       string
		value      float64
		wantError  bool
		wantReason string
	}{
		{"positive rate", 2.5, false, ""},
		{"small positive", 0.001, false, ""},
		{"zero rate", 0, true, "must be positive"},
		{"negative rate", -1.5, true, "must be positive"},
		{"NaN", math.NaN(), true, "must be finite"},
		{"positive infinity", math.Inf(1), true, "must be finite"},
		{"negative infinity", math.Inf(-1), true, "must be finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFiniteRate("bucket", "fillRate", tt.value)

			if !tt.wantError {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}

			var verr *errors.ValidationError
			if !stderrors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", verr.Reason, tt.wantReason)
			}
			if !stderrors.Is(err, errors.ErrInvalidConfiguration) {
				t.Error("error should wrap ErrInvalidConfiguration")
			}
		})
	}
}

func TestValidateNonNegativeDuration(t *testing.T) {
	if err := ValidateNonNegativeDuration("config", "interval", 0); err != nil {
		t.Errorf("zero duration should be valid, got %v", err)
	}
	if err := ValidateNonNegativeDuration("config", "interval", time.Second); err != nil {
		t.Errorf("positive duration should be valid, got %v", err)
	}
	if err := ValidateNonNegativeDuration("config", "interval", -time.Millisecond); !errors.IsValidationError(err) {
		t.Errorf("negative duration should fail validation, got %v", err)
	}
}

func TestValidateNotEmpty(t *testing.T) {
	if err := ValidateNotEmpty("config", "listen", ":8080"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	err := ValidateNotEmpty("config", "listen", "")
	if !errors.IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), "provide a non-empty listen") {
		t.Errorf("error should carry hint, got %q", err.Error())
	}
}
