package entity

import (
	"fmt"
	"time"

	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/pkg/canonical"
)

// HistoryEntry is one append-only record of the risk approval audit trail
type HistoryEntry struct {
	RiskID        string           `json:"risk_id"`
	SequenceNo    int64            `json:"sequence_no"`
	Cycle         int              `json:"cycle"`
	Action        workflow.Action  `json:"action"`
	WorkflowState workflow.State   `json:"workflow_state"`
	Timestamp     time.Time        `json:"timestamp"`
	UserID        string           `json:"user_id"`
	UserName      string           `json:"user_name"`
	Comments      string           `json:"comments"`
	Signature     *SignatureRecord `json:"signature"`
	NextActions   []string         `json:"next_actions"`
	PrevChecksum  string           `json:"prev_checksum"`
	Checksum      string           `json:"checksum"`
}

// PostTransitionState implements workflow.Recorded
func (e HistoryEntry) PostTransitionState() workflow.State {
	return e.WorkflowState
}

// Decision returns the signed decision, or "" for entries without a signature
func (e HistoryEntry) Decision() Decision {
	if e.Signature == nil {
		return ""
	}
	return e.Signature.Decision
}

// Clone returns a deep copy so callers cannot alias stored slices
func (e HistoryEntry) Clone() HistoryEntry {
	if e.Signature != nil {
		sig := e.Signature.Clone()
		e.Signature = &sig
	}
	if e.NextActions != nil {
		e.NextActions = append([]string{}, e.NextActions...)
	}
	return e
}

// ComputeChecksum returns sha256(prev_checksum || canonical(entry without checksum))
func (e HistoryEntry) ComputeChecksum() (string, error) {
	payload, err := canonical.MarshalWithout(e, "checksum")
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %s#%d: %w", e.RiskID, e.SequenceNo, err)
	}
	return canonical.ChainDigest(e.PrevChecksum, payload), nil
}

// Seal links the entry to prev and stamps its checksum
func (e *HistoryEntry) Seal(sequence int64, prev string) error {
	e.SequenceNo = sequence
	e.PrevChecksum = prev
	e.Timestamp = e.Timestamp.UTC()
	if e.Signature != nil {
		e.Signature.Timestamp = e.Signature.Timestamp.UTC()
	}
	e.Checksum = ""

	sum, err := e.ComputeChecksum()
	if err != nil {
		return err
	}
	e.Checksum = sum
	return nil
}

// LastChecksum returns the checksum the next entry must chain from
func LastChecksum(history []HistoryEntry) string {
	if len(history) == 0 {
		return GenesisChecksum
	}
	return history[len(history)-1].Checksum
}

// CurrentCycle returns the review cycle of the latest entry, 1 for a new risk
func CurrentCycle(history []HistoryEntry) int {
	if len(history) == 0 {
		return 1
	}
	return history[len(history)-1].Cycle
}
