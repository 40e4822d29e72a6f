package workflow

import (
	"context"
	"fmt"
	"sort"
)

// Request carries the inputs of a requested transition that guards inspect
type Request struct {
	Action        Action
	SignatureText string
	Conditions    []string
	Rationale     string
	// NewCycle explicitly reopens a finalized risk for another review round
	NewCycle bool
}

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// Fire attempts the request, transitioning to the new state if allowed
	Fire(ctx context.Context, req Request) (State, error)

	// PermittedActions returns all actions configured for the current state, sorted
	PermittedActions() []Action
}

// stateMachine implements StateMachine
type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// Fire attempts the request, transitioning to the new state if allowed.
// The machine state is unchanged on error.
func (m *stateMachine) Fire(ctx context.Context, req Request) (State, error) {
	if !req.Action.IsValid() {
		return m.currentState, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	config, exists := m.configurations[m.currentState]
	if !exists {
		return m.currentState, fmt.Errorf("%w: cannot apply %s from state %s (no configuration)", ErrInvalidTransition, req.Action, m.currentState)
	}

	transitions := config.transitions[req.Action]
	if len(transitions) == 0 {
		return m.currentState, fmt.Errorf("%w: cannot apply %s from state %s", ErrInvalidTransition, req.Action, m.currentState)
	}

	// First passing guard wins; remember the first rejection for the error
	var firstErr error
	for _, t := range transitions {
		if t.guard == nil {
			m.currentState = t.toState
			return m.currentState, nil
		}
		err := t.guard(ctx, req)
		if err == nil {
			m.currentState = t.toState
			return m.currentState, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	return m.currentState, fmt.Errorf("%w: %s from state %s: %w", ErrGuardFailed, req.Action, m.currentState, firstErr)
}

// PermittedActions returns all actions configured for the current state
func (m *stateMachine) PermittedActions() []Action {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Action{}
	}

	actions := make([]Action, 0, len(config.transitions))
	for action := range config.transitions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	return actions
}
