package service

import (
	"errors"
	"fmt"

	"github.com/qmsforge/riskflow/internal/domain/workflow"
)

var (
	// ErrUnknownRisk is returned when a query requires a risk with recorded history
	ErrUnknownRisk = errors.New("unknown risk")

	// ErrUnauthorized is wrapped by every AuthorizationError
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition is returned when the workflow does not permit the request
	ErrInvalidTransition = workflow.ErrInvalidTransition
)

// ValidationError reports a missing or empty required field
type ValidationError = workflow.ValidationError

// AuthorizationError reports a role that may not perform an operation
type AuthorizationError struct {
	Role      string
	Operation string
}

func (e *AuthorizationError) Error() string {
	role := e.Role
	if role == "" {
		role = "<none>"
	}
	return fmt.Sprintf("unauthorized: role %s may not %s", role, e.Operation)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrUnauthorized
}

// TransitionError reports a workflow request rejected from the current state
type TransitionError struct {
	RiskID string
	From   workflow.State
	Action workflow.Action
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s: %v", e.RiskID, e.Action, e.From, e.Err)
}

func (e *TransitionError) Unwrap() []error {
	return []error{ErrInvalidTransition, e.Err}
}

// transitionError keeps validation failures as they are and reports every
// other refusal as an invalid transition
func transitionError(riskID string, from workflow.State, action workflow.Action, err error) error {
	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return &TransitionError{RiskID: riskID, From: from, Action: action, Err: err}
}
