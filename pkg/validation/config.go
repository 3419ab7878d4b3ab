package validation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/constraints"
)

// ConfigValidator provides a fluent interface for validating configuration values.
// It collects all validation errors rather than failing on the first one.
type ConfigValidator struct {
	errors []error
	name   string // config section name for error messages
}

// NewConfigValidator creates a new config validator with the given section name.
func NewConfigValidator(configName string) *ConfigValidator {
	return &ConfigValidator{
		name:   configName,
		errors: make([]error, 0),
	}
}

func (cv *ConfigValidator) addf(field, format string, args ...any) *ConfigValidator {
	cv.errors = append(cv.errors, fmt.Errorf("%s.%s: "+format, append([]any{cv.name, field}, args...)...))
	return cv
}

// Required validates that a string field is not empty.
func (cv *ConfigValidator) Required(field, value string) *ConfigValidator {
	if value == "" {
		return cv.addf(field, "required field is empty")
	}
	return cv
}

// Finite validates that a float field is neither NaN nor infinite.
func (cv *ConfigValidator) Finite(field string, value float64) *ConfigValidator {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return cv.addf(field, "value %g is not finite", value)
	}
	return cv
}

// Positive validates that a float field is finite and positive (> 0).
func (cv *ConfigValidator) Positive(field string, value float64) *ConfigValidator {
	if !(value > 0) || math.IsInf(value, 1) {
		return cv.addf(field, "value %g must be positive", value)
	}
	return cv
}

// NonNegative validates that a float field is finite and non-negative (>= 0).
func (cv *ConfigValidator) NonNegative(field string, value float64) *ConfigValidator {
	if !(value >= 0) || math.IsInf(value, 1) {
		return cv.addf(field, "value %g must be non-negative", value)
	}
	return cv
}

// Below validates that value is strictly less than bound. Both fields are
// named so that cross-field rules read well.
func (cv *ConfigValidator) Below(field string, value float64, boundField string, bound float64) *ConfigValidator {
	if !(value < bound) {
		return cv.addf(field, "value %g must be below %s (%g)", value, boundField, bound)
	}
	return cv
}

// MinDuration validates that a duration is at least the minimum.
func (cv *ConfigValidator) MinDuration(field string, value, min time.Duration) *ConfigValidator {
	if value < min {
		return cv.addf(field, "duration %v is below minimum %v", value, min)
	}
	return cv
}

// OneOf validates that a string field is one of the allowed values.
func (cv *ConfigValidator) OneOf(field, value string, allowed []string) *ConfigValidator {
	for _, a := range allowed {
		if value == a {
			return cv
		}
	}
	return cv.addf(field, "value %q must be one of %v", value, allowed)
}

// Custom applies a custom validation function.
func (cv *ConfigValidator) Custom(field string, fn func() error) *ConfigValidator {
	if err := fn(); err != nil {
		cv.errors = append(cv.errors, fmt.Errorf("%s.%s: %w", cv.name, field, err))
	}
	return cv
}

// When conditionally applies validations if the condition is true.
func (cv *ConfigValidator) When(condition bool, validations func(*ConfigValidator)) *ConfigValidator {
	if condition {
		validations(cv)
	}
	return cv
}

// HasErrors returns true if any validation errors occurred.
func (cv *ConfigValidator) HasErrors() bool {
	return len(cv.errors) > 0
}

// Error returns the first validation error, or nil if no errors.
func (cv *ConfigValidator) Error() error {
	if len(cv.errors) == 0 {
		return nil
	}
	return cv.errors[0]
}

// Errors returns all validation errors.
func (cv *ConfigValidator) Errors() []error {
	return cv.errors
}

// Validate returns nil, the single error, or all errors combined.
func (cv *ConfigValidator) Validate() error {
	switch len(cv.errors) {
	case 0:
		return nil
	case 1:
		return cv.errors[0]
	}
	var result *multierror.Error
	for _, err := range cv.errors {
		result = multierror.Append(result, err)
	}
	return result
}

// Min validates that value is at least min.
func Min[T constraints.Ordered](cv *ConfigValidator, field string, value, min T) *ConfigValidator {
	if value < min {
		return cv.addf(field, "value %v is below minimum %v", value, min)
	}
	return cv
}

// Max validates that value does not exceed max.
func Max[T constraints.Ordered](cv *ConfigValidator, field string, value, max T) *ConfigValidator {
	if value > max {
		return cv.addf(field, "value %v exceeds maximum %v", value, max)
	}
	return cv
}

// Range validates that value lies in [min, max]. NaN is outside every range.
func Range[T constraints.Ordered](cv *ConfigValidator, field string, value, min, max T) *ConfigValidator {
	if !(value >= min && value <= max) {
		return cv.addf(field, "value %v is outside range [%v, %v]", value, min, max)
	}
	return cv
}

// Validatable is an interface for types that can validate themselves.
type Validatable interface {
	Validate() error
}

// ValidateConfig validates any type that implements Validatable.
func ValidateConfig(config Validatable) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}
	return config.Validate()
}

// DefaultOr returns the value if it's non-zero, otherwise returns the default.
func DefaultOr[T comparable](value, defaultValue T) T {
	var zero T
	if value == zero {
		return defaultValue
	}
	return value
}

// PositiveOr returns the value if it's positive, otherwise returns the default.
func PositiveOr[T constraints.Integer | constraints.Float](value, defaultValue T) T {
	if !(value > 0) {
		return defaultValue
	}
	return value
}

// Clamp clamps a value to the range [min, max].
func Clamp[T constraints.Ordered](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
