package workflow

// State represents a workflow state in the risk approval lifecycle
type State string

const (
	StateIdentified             State = "IDENTIFIED"
	StateSubmitted              State = "SUBMITTED"
	StateUnderReview            State = "UNDER_REVIEW"
	StateApproved               State = "APPROVED"
	StateApprovedWithConditions State = "APPROVED_WITH_CONDITIONS"
	StateRejected               State = "REJECTED"
)

var validStates = map[State]bool{
	StateIdentified:             true,
	StateSubmitted:              true,
	StateUnderReview:            true,
	StateApproved:               true,
	StateApprovedWithConditions: true,
	StateRejected:               true,
}

// Approved outcomes are stable; leaving them requires an explicit new review cycle.
var terminalStates = map[State]bool{
	StateApproved:               true,
	StateApprovedWithConditions: true,
}

// IsTerminal returns true if the state is a finalized approval outcome
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// Label returns a human readable name for reports
func (s State) Label() string {
	switch s {
	case StateIdentified:
		return "Identified"
	case StateSubmitted:
		return "Submitted"
	case StateUnderReview:
		return "Under Review"
	case StateApproved:
		return "Approved"
	case StateApprovedWithConditions:
		return "Approved With Conditions"
	case StateRejected:
		return "Rejected"
	default:
		return string(s)
	}
}

// Recorded is implemented by history records that carry a post-transition state
type Recorded interface {
	PostTransitionState() State
}

// CurrentState derives the current state from an ordered history.
// An empty history means the risk has only been identified.
func CurrentState[R Recorded](history []R) State {
	if len(history) == 0 {
		return StateIdentified
	}
	return history[len(history)-1].PostTransitionState()
}
