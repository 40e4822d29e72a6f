package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidAction is returned when an action is not recognized
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrAlreadyFinalized is returned when submitting an approved risk without starting a new cycle
	ErrAlreadyFinalized = errors.New("risk approval already finalized")

	// ErrValidation is the sentinel wrapped by every ValidationError
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports a required field that was missing or empty
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s is required", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
