package validation

import (
	"math"
	"time"

	gferrors "github.com/vnykmshr/gateflow/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateFiniteRate validates a per-second rate: it must be a finite number
// greater than zero.
func ValidateFiniteRate(module, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return gferrors.NewValidationError(module, field, value, "must be finite").
			WithHint("rates are expressed as events per second")
	}
	if value <= 0 {
		return gferrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is zero or positive.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return gferrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 to disable or a positive duration")
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gferrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
