package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateIdentified, false},
		{StateSubmitted, false},
		{StateUnderReview, false},
		{StateApproved, true},
		{StateApprovedWithConditions, true},
		{StateRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StateIdentified, true},
		{"valid state", StateApprovedWithConditions, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAction_Parse(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"submit", ActionSubmit, false},
		{"APPROVE", ActionApprove, false},
		{"approve-with-conditions", ActionApproveWithConditions, false},
		{" reject ", ActionReject, false},
		{"escalate", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAction) {
					t.Errorf("ParseAction(%q) error = %v, want %v", tt.in, err, ErrInvalidAction)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAction(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StateIdentified)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	// Same state yields the same configuration
	config2 := builder.Configure(StateIdentified)
	if config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(State("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(State("INVALID"))
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateIdentified).
		Permit(ActionSubmit, StateSubmitted)

	machine := builder.Build(StateIdentified)

	if got := machine.PermittedActions(); len(got) != 1 || got[0] != ActionSubmit {
		t.Errorf("PermittedActions() = %v, want [SUBMIT]", got)
	}

	got, err := machine.Fire(context.Background(), Request{Action: ActionSubmit})
	if err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if got != StateSubmitted || machine.State() != StateSubmitted {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateSubmitted)
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	guardErr := errors.New("not today")
	builder := NewBuilder()
	builder.Configure(StateIdentified).
		PermitIf(ActionSubmit, StateSubmitted, func(ctx context.Context, req Request) error {
			return guardErr
		})

	machine := builder.Build(StateIdentified)

	_, err := machine.Fire(context.Background(), Request{Action: ActionSubmit})
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if !errors.Is(err, guardErr) {
		t.Errorf("Fire() error = %v, should wrap guard error", err)
	}
	if machine.State() != StateIdentified {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateIdentified, machine.State())
	}
}

func TestStateConfiguration_PermitIf_MultipleTransitions(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateSubmitted).
		PermitIf(ActionApprove, StateApprovedWithConditions, func(ctx context.Context, req Request) error {
			if len(req.Conditions) == 0 {
				return errors.New("no conditions")
			}
			return nil
		}).
		Permit(ActionApprove, StateApproved)

	machine1 := builder.Build(StateSubmitted)
	if _, err := machine1.Fire(context.Background(), Request{Action: ActionApprove, Conditions: []string{"c"}}); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine1.State() != StateApprovedWithConditions {
		t.Errorf("State after Fire() = %v, want %v", machine1.State(), StateApprovedWithConditions)
	}

	// First guard fails, unguarded fallback applies
	machine2 := builder.Build(StateSubmitted)
	if _, err := machine2.Fire(context.Background(), Request{Action: ActionApprove}); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}
	if machine2.State() != StateApproved {
		t.Errorf("State after Fire() = %v, want %v", machine2.State(), StateApproved)
	}
}

func TestStateConfiguration_PermitPanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid target state")
		}
	}()

	builder.Configure(StateIdentified).Permit(ActionSubmit, State("INVALID"))
}

func TestStateMachine_Fire_InvalidAction(t *testing.T) {
	machine := NewBuilder().Build(StateIdentified)

	_, err := machine.Fire(context.Background(), Request{Action: Action("ESCALATE")})
	if !errors.Is(err, ErrInvalidAction) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidAction)
	}
}

func TestStateMachine_Fire_NoConfiguration(t *testing.T) {
	machine := NewBuilder().Build(StateIdentified)

	_, err := machine.Fire(context.Background(), Request{Action: ActionSubmit})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestStateMachine_PermittedActions(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateSubmitted).
		Permit(ActionReject, StateRejected).
		Permit(ActionApprove, StateApproved)

	actions := builder.Build(StateSubmitted).PermittedActions()
	if len(actions) != 2 || actions[0] != ActionApprove || actions[1] != ActionReject {
		t.Errorf("PermittedActions() = %v, want [APPROVE REJECT]", actions)
	}

	if got := builder.Build(StateIdentified).PermittedActions(); len(got) != 0 {
		t.Errorf("PermittedActions() returned %d actions, want 0", len(got))
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateIdentified).
		Permit(ActionSubmit, StateSubmitted)

	machine1 := builder.Build(StateIdentified)
	machine2 := builder.Build(StateIdentified)

	// Configuring after Build must not affect built machines
	builder.Configure(StateIdentified).Permit(ActionReject, StateRejected)

	if _, err := machine1.Fire(context.Background(), Request{Action: ActionSubmit}); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine2.State() != StateIdentified {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StateIdentified)
	}
	if got := machine2.PermittedActions(); len(got) != 1 {
		t.Errorf("machine2 should not see transitions configured after Build(), got %v", got)
	}
}

type recordedState State

func (r recordedState) PostTransitionState() State { return State(r) }

func TestCurrentState(t *testing.T) {
	if got := CurrentState([]recordedState{}); got != StateIdentified {
		t.Errorf("CurrentState(empty) = %v, want %v", got, StateIdentified)
	}

	history := []recordedState{recordedState(StateSubmitted), recordedState(StateRejected)}
	if got := CurrentState(history); got != StateRejected {
		t.Errorf("CurrentState() = %v, want %v", got, StateRejected)
	}
}
