package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/domain/workflow"
)

// Decision is the outcome attested by an electronic signature
type Decision string

const (
	DecisionApprove               Decision = "APPROVE"
	DecisionApproveWithConditions Decision = "APPROVE_WITH_CONDITIONS"
	DecisionReject                Decision = "REJECT"
)

// Action maps the decision to its workflow action
func (d Decision) Action() workflow.Action {
	switch d {
	case DecisionApprove:
		return workflow.ActionApprove
	case DecisionApproveWithConditions:
		return workflow.ActionApproveWithConditions
	case DecisionReject:
		return workflow.ActionReject
	default:
		return workflow.Action(d)
	}
}

// IsValid returns true for a known decision
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionApproveWithConditions || d == DecisionReject
}

// ParseDecision parses a decision name, accepting lower case and dashes
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: unknown decision %q", workflow.ErrInvalidAction, s)
	}
	return d, nil
}

// SignatureRecord is an electronic signature attached to a reviewer decision.
// Records are values: once built they are only ever copied, never edited.
type SignatureRecord struct {
	ActorID        string    `json:"actor_id"`
	ActorName      string    `json:"actor_name"`
	AuthorityLevel string    `json:"authority_level"`
	Decision       Decision  `json:"decision"`
	SignatureText  string    `json:"signature_text"`
	Conditions     []string  `json:"conditions"`
	Rationale      string    `json:"rationale"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewSignatureRecord validates and builds a signature record
func NewSignatureRecord(actorID, actorName, authority string, decision Decision, signatureText string, conditions []string, rationale string, at time.Time) (SignatureRecord, error) {
	if strings.TrimSpace(actorID) == "" {
		return SignatureRecord{}, &workflow.ValidationError{Field: "actor_id"}
	}
	if !decision.IsValid() {
		return SignatureRecord{}, &workflow.ValidationError{Field: "decision"}
	}
	if strings.TrimSpace(signatureText) == "" {
		return SignatureRecord{}, &workflow.ValidationError{Field: "signature_text"}
	}
	if strings.TrimSpace(rationale) == "" {
		return SignatureRecord{}, &workflow.ValidationError{Field: "rationale"}
	}

	normalized := workflow.NormalizeConditions(conditions)
	switch {
	case decision == DecisionApproveWithConditions && len(normalized) == 0:
		return SignatureRecord{}, &workflow.ValidationError{Field: "conditions"}
	case decision != DecisionApproveWithConditions && len(normalized) > 0:
		// Conditions only attach to conditional approvals
		normalized = []string{}
	}

	return SignatureRecord{
		ActorID:        actorID,
		ActorName:      actorName,
		AuthorityLevel: authority,
		Decision:       decision,
		SignatureText:  signatureText,
		Conditions:     normalized,
		Rationale:      rationale,
		Timestamp:      at.UTC(),
	}, nil
}

// Clone returns a deep copy
func (s SignatureRecord) Clone() SignatureRecord {
	s.Conditions = append([]string{}, s.Conditions...)
	return s
}
