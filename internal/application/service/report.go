package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
)

// RiskSummary is one risk's line in the workflow report
type RiskSummary struct {
	RiskID      string
	State       workflow.State
	Cycle       int
	Entries     int
	LastEntry   entity.HistoryEntry
	ChainError  string
	Unreadable  bool
	NextActions []string
}

// WorkflowReport summarizes every risk in the audit trail
type WorkflowReport struct {
	GeneratedAt time.Time
	Risks       []RiskSummary
	Counts      map[workflow.State]int
	Broken      int
}

var reportStateOrder = []workflow.State{
	workflow.StateIdentified,
	workflow.StateSubmitted,
	workflow.StateUnderReview,
	workflow.StateApproved,
	workflow.StateApprovedWithConditions,
	workflow.StateRejected,
}

// BuildWorkflowReport collects the report data. A risk whose chain fails
// verification is reported, not skipped.
func (s *approvalManagerImpl) BuildWorkflowReport(ctx context.Context) (*WorkflowReport, error) {
	ids, err := s.store.RiskIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &WorkflowReport{
		GeneratedAt: s.now().UTC(),
		Risks:       make([]RiskSummary, 0, len(ids)),
		Counts:      make(map[workflow.State]int),
	}

	for _, id := range ids {
		summary := RiskSummary{RiskID: id}

		if err := s.store.Verify(ctx, id); err != nil {
			if !errors.Is(err, port.ErrChainBroken) {
				return nil, err
			}
			summary.ChainError = err.Error()
			report.Broken++
		}

		history, err := s.store.History(ctx, id)
		switch {
		case errors.Is(err, port.ErrChainBroken):
			summary.Unreadable = true
			report.Risks = append(report.Risks, summary)
			continue
		case err != nil:
			return nil, err
		}

		summary.State = workflow.CurrentState(history)
		summary.Entries = len(history)
		if len(history) > 0 {
			summary.LastEntry = history[len(history)-1]
			summary.Cycle = summary.LastEntry.Cycle
			summary.NextActions = summary.LastEntry.NextActions
		}
		report.Counts[summary.State]++
		report.Risks = append(report.Risks, summary)
	}

	return report, nil
}

// Text renders the report as plain text
func (r *WorkflowReport) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Risk Approval Workflow Report\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "Summary\n")
	fmt.Fprintf(&b, "  Total risks: %d\n", len(r.Risks))
	for _, state := range reportStateOrder {
		if n := r.Counts[state]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", state.Label(), n)
		}
	}
	if r.Broken > 0 {
		fmt.Fprintf(&b, "  Integrity failures: %d\n", r.Broken)
	}

	if len(r.Risks) == 0 {
		fmt.Fprintf(&b, "\nNo risks recorded.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nRisks\n")
	for _, risk := range r.Risks {
		if risk.Unreadable {
			fmt.Fprintf(&b, "  %s  UNREADABLE\n", risk.RiskID)
			fmt.Fprintf(&b, "    integrity: %s\n", risk.ChainError)
			continue
		}

		fmt.Fprintf(&b, "  %s  %s  cycle %d  entries %d\n", risk.RiskID, risk.State, risk.Cycle, risk.Entries)
		last := risk.LastEntry
		fmt.Fprintf(&b, "    last: %s by %s (%s) at %s\n",
			last.Action, last.UserName, last.UserID, last.Timestamp.UTC().Format(time.RFC3339))
		if sig := last.Signature; sig != nil {
			fmt.Fprintf(&b, "    signature: %q (%s, %s)\n", sig.SignatureText, sig.Decision, sig.AuthorityLevel)
			if sig.Rationale != "" {
				fmt.Fprintf(&b, "    rationale: %s\n", sig.Rationale)
			}
			for _, c := range sig.Conditions {
				fmt.Fprintf(&b, "    condition: %s\n", c)
			}
		}
		for _, a := range risk.NextActions {
			fmt.Fprintf(&b, "    next: %s\n", a)
		}
		if risk.ChainError != "" {
			fmt.Fprintf(&b, "    integrity: %s\n", risk.ChainError)
		} else {
			fmt.Fprintf(&b, "    integrity: verified\n")
		}
	}

	return b.String()
}

// GenerateWorkflowReport renders the workflow report as text
func (s *approvalManagerImpl) GenerateWorkflowReport(ctx context.Context) (string, error) {
	report, err := s.BuildWorkflowReport(ctx)
	if err != nil {
		return "", err
	}
	return report.Text(), nil
}

// SaveWorkflowReport writes the report under the report directory and returns its path
func (s *approvalManagerImpl) SaveWorkflowReport(ctx context.Context) (string, error) {
	if s.reports == nil {
		return "", fmt.Errorf("%w: report storage is not configured", port.ErrStorage)
	}

	report, err := s.BuildWorkflowReport(ctx)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("workflow-report-%s.txt", report.GeneratedAt.Format("20060102T150405Z"))
	rel := filepath.Join(s.reportDir, name)
	if err := s.reports.Save(ctx, rel, []byte(report.Text())); err != nil {
		s.logger.Error("Failed to save workflow report", "path", rel, "error", err)
		return "", err
	}

	path := s.reports.GetFullPath(rel)
	s.logger.Info("Workflow report saved", "path", path, "risks", len(report.Risks))
	return path, nil
}
