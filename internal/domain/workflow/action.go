package workflow

import (
	"fmt"
	"strings"
)

// Action represents a user request that can cause a state transition
type Action string

const (
	ActionSubmit                Action = "SUBMIT"
	ActionApprove               Action = "APPROVE"
	ActionApproveWithConditions Action = "APPROVE_WITH_CONDITIONS"
	ActionReject                Action = "REJECT"
)

var validActions = map[Action]bool{
	ActionSubmit:                true,
	ActionApprove:               true,
	ActionApproveWithConditions: true,
	ActionReject:                true,
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is recognized
func (a Action) IsValid() bool {
	return validActions[a]
}

// IsDecision returns true for reviewer decisions that require a signature
func (a Action) IsDecision() bool {
	return a == ActionApprove || a == ActionApproveWithConditions || a == ActionReject
}

// ParseAction parses an action name, accepting lower case and dashes
func ParseAction(s string) (Action, error) {
	normalized := Action(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !normalized.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return normalized, nil
}
