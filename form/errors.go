package form

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnknownField    = errors.New("form: unknown field")
	ErrNotInteractive  = errors.New("form: field does not accept input")
	ErrInstanceClosed  = errors.New("form: instance has been discarded")
	ErrSuperseded      = errors.New("form: instance is no longer the active session")
	ErrDuplicateField  = errors.New("form: duplicate field")
	ErrNoStartField    = errors.New("form: start field is not declared")
	ErrEmptyDefinition = errors.New("form: definition has no id")
)

// ValidationError rejects one input. Message is shown to the user as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid builds a validation failure with a user-facing message.
func Invalid(message string) error {
	return &ValidationError{Message: message}
}

// Length accepts text whose length in characters is within [min, max].
func Length(min, max int, label string) func(string) (string, error) {
	return func(raw string) (string, error) {
		n := utf8.RuneCountInString(raw)
		if n > max {
			return "", Invalid("The *" + label + "* can't be longer than " + strconv.Itoa(max) + " characters.")
		}
		if n < min {
			return "", Invalid("The *" + label + "* can't be shorter than " + strconv.Itoa(min) + " characters.")
		}
		return raw, nil
	}
}

// Match accepts text matching re after trimming surrounding spaces.
func Match(re *regexp.Regexp, message string) func(string) (string, error) {
	return func(raw string) (string, error) {
		raw = strings.TrimSpace(raw)
		if !re.MatchString(raw) {
			return "", Invalid(message)
		}
		return raw, nil
	}
}

// NumberBetween accepts a decimal number within [min, max]. NaN is rejected.
func NumberBetween(min, max float64, message string) func(string) (float64, error) {
	return func(raw string) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%")), 64)
		if err != nil || !(v >= min && v <= max) {
			return 0, Invalid(message)
		}
		return v, nil
	}
}
