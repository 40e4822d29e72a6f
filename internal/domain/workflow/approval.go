package workflow

import (
	"context"
	"fmt"
	"strings"
)

// Options tunes the approval lifecycle
type Options struct {
	// AllowReopen permits a finalized risk to enter a new review cycle when
	// the submitter asks for one explicitly
	AllowReopen bool
}

// DefaultOptions returns the default approval lifecycle options
func DefaultOptions() Options {
	return Options{AllowReopen: true}
}

// Approval is the risk approval lifecycle definition
type Approval struct {
	builder StateMachineBuilder
	opts    Options
}

// NewApproval configures the risk approval state machine:
//
//	IDENTIFIED | REJECTED --SUBMIT--> SUBMITTED
//	SUBMITTED | UNDER_REVIEW --APPROVE--> APPROVED
//	SUBMITTED | UNDER_REVIEW --APPROVE_WITH_CONDITIONS--> APPROVED_WITH_CONDITIONS
//	SUBMITTED | UNDER_REVIEW --REJECT--> REJECTED
//	APPROVED | APPROVED_WITH_CONDITIONS --SUBMIT(new cycle)--> SUBMITTED
func NewApproval(opts Options) *Approval {
	a := &Approval{
		builder: NewBuilder(),
		opts:    opts,
	}

	a.builder.Configure(StateIdentified).
		Permit(ActionSubmit, StateSubmitted)

	a.builder.Configure(StateRejected).
		Permit(ActionSubmit, StateSubmitted)

	for _, review := range []State{StateSubmitted, StateUnderReview} {
		a.builder.Configure(review).
			Permit(ActionSubmit, review).
			PermitIf(ActionApprove, StateApproved, requireSignature).
			PermitIf(ActionApproveWithConditions, StateApprovedWithConditions, requireConditions).
			PermitIf(ActionReject, StateRejected, requireRationale)
	}

	for _, final := range []State{StateApproved, StateApprovedWithConditions} {
		a.builder.Configure(final).
			PermitIf(ActionSubmit, StateSubmitted, a.reopenGuard)
	}

	return a
}

// Machine returns a state machine positioned at the given state
func (a *Approval) Machine(current State) StateMachine {
	return a.builder.Build(current)
}

// ValidateTransition checks whether the request is legal from the current
// state and returns the resulting state
func (a *Approval) ValidateTransition(ctx context.Context, current State, req Request) (State, error) {
	if !current.IsValid() {
		return current, fmt.Errorf("%w: %q", ErrInvalidState, current)
	}
	return a.Machine(current).Fire(ctx, req)
}

// PermittedActions lists the actions that may be requested from current.
// Reopening a finalized risk is listed only when configuration allows it.
func (a *Approval) PermittedActions(current State) []Action {
	actions := a.Machine(current).PermittedActions()
	if !current.IsTerminal() || a.opts.AllowReopen {
		return actions
	}
	out := make([]Action, 0, len(actions))
	for _, act := range actions {
		if act != ActionSubmit {
			out = append(out, act)
		}
	}
	return out
}

// AwaitsDecision reports whether a reviewer decision can be recorded from current
func (a *Approval) AwaitsDecision(current State) bool {
	for _, act := range a.Machine(current).PermittedActions() {
		if act.IsDecision() {
			return true
		}
	}
	return false
}

// StartsNewCycle reports whether a legal request from current opens a new review cycle
func (a *Approval) StartsNewCycle(current State, req Request) bool {
	return req.Action == ActionSubmit && current.IsTerminal()
}

func (a *Approval) reopenGuard(_ context.Context, req Request) error {
	if !a.opts.AllowReopen || !req.NewCycle {
		return ErrAlreadyFinalized
	}
	return nil
}

func requireSignature(_ context.Context, req Request) error {
	if strings.TrimSpace(req.SignatureText) == "" {
		return &ValidationError{Field: "signature_text"}
	}
	return nil
}

func requireConditions(ctx context.Context, req Request) error {
	if err := requireSignature(ctx, req); err != nil {
		return err
	}
	if len(NormalizeConditions(req.Conditions)) == 0 {
		return &ValidationError{Field: "conditions"}
	}
	return nil
}

func requireRationale(ctx context.Context, req Request) error {
	if err := requireSignature(ctx, req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Rationale) == "" {
		return &ValidationError{Field: "rationale"}
	}
	return nil
}

// NormalizeConditions trims conditions and drops empty ones, keeping order
func NormalizeConditions(conditions []string) []string {
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// NextActions returns the default follow-up actions after entering state
func NextActions(state State, req Request) []string {
	switch state {
	case StateSubmitted, StateUnderReview:
		return []string{"Quality Engineer review required"}
	case StateApproved:
		return []string{"Implement risk controls", "Monitor residual risk"}
	case StateApprovedWithConditions:
		conditions := NormalizeConditions(req.Conditions)
		actions := make([]string, 0, len(conditions)+1)
		for _, c := range conditions {
			actions = append(actions, "Satisfy condition: "+c)
		}
		return append(actions, "Monitor residual risk")
	case StateRejected:
		return []string{"Rework risk assessment", "Resubmit for review"}
	default:
		return []string{}
	}
}
