package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/authz"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SubmitOptions tunes a submission
type SubmitOptions struct {
	// NewCycle reopens an approved risk for another review round
	NewCycle bool
}

// ApprovalRequest is a reviewer's signed decision
type ApprovalRequest struct {
	SignatureText string
	Decision      entity.Decision
	Conditions    []string
	Rationale     string
}

// QueryOptions tunes history and state queries
type QueryOptions struct {
	// RequireKnown fails with ErrUnknownRisk when the risk has no history
	RequireKnown bool
}

// TransitionResult describes the entry recorded for a workflow transition
type TransitionResult struct {
	Entry       entity.HistoryEntry `json:"entry"`
	State       workflow.State      `json:"state"`
	NextActions []string            `json:"next_actions"`
}

// ApprovalManager orchestrates risk review and approval over the audit trail
type ApprovalManager interface {
	SubmitRiskForReview(ctx context.Context, riskID string, actor port.Actor, comment string, opts SubmitOptions) (*TransitionResult, error)
	ApproveRisk(ctx context.Context, riskID string, actor port.Actor, req ApprovalRequest) (*TransitionResult, error)
	RejectRisk(ctx context.Context, riskID string, actor port.Actor, signatureText, rationale string) (*TransitionResult, error)

	GetCurrentWorkflowState(ctx context.Context, riskID string, opts QueryOptions) (workflow.State, error)
	GetWorkflowHistory(ctx context.Context, riskID string, opts QueryOptions) ([]entity.HistoryEntry, error)
	GetPendingApprovalsForUser(ctx context.Context, role string) ([]string, error)
	PermittedActions(state workflow.State) []workflow.Action

	GenerateWorkflowReport(ctx context.Context) (string, error)
	SaveWorkflowReport(ctx context.Context) (string, error)

	VerifyRisk(ctx context.Context, riskID string) error
	VerifyAll(ctx context.Context) error
	Export(ctx context.Context, actor port.Actor, opts port.ExportOptions) (*port.ExportResult, error)
	Backup(ctx context.Context, actor port.Actor) (*port.BackupStats, error)
	Restore(ctx context.Context, actor port.Actor, backupID string) error
	ListBackups(ctx context.Context, actor port.Actor) ([]port.BackupInfo, error)
}

// Dependencies groups what the approval manager is built from
type Dependencies struct {
	Store    port.AuditStore
	Exporter port.AuditExporter
	Backups  port.BackupManager
	// Reports receives saved workflow reports under ReportDir
	Reports   port.FileStorage
	ReportDir string
	Roles     *authz.Table
	Approval  *workflow.Approval
	Logger    Logger
}

type approvalManagerImpl struct {
	store     port.AuditStore
	exporter  port.AuditExporter
	backups   port.BackupManager
	reports   port.FileStorage
	reportDir string
	roles     *authz.Table
	approval  *workflow.Approval
	logger    Logger
	now       func() time.Time
}

// NewApprovalManager creates a new ApprovalManager
func NewApprovalManager(deps Dependencies) (ApprovalManager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if deps.Roles == nil {
		return nil, fmt.Errorf("role table is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Approval == nil {
		deps.Approval = workflow.NewApproval(workflow.DefaultOptions())
	}
	if deps.ReportDir == "" {
		deps.ReportDir = "reports"
	}

	return &approvalManagerImpl{
		store:     deps.Store,
		exporter:  deps.Exporter,
		backups:   deps.Backups,
		reports:   deps.Reports,
		reportDir: deps.ReportDir,
		roles:     deps.Roles,
		approval:  deps.Approval,
		logger:    deps.Logger,
		now:       time.Now,
	}, nil
}

// SubmitRiskForReview records a submission without a signature
func (s *approvalManagerImpl) SubmitRiskForReview(ctx context.Context, riskID string, actor port.Actor, comment string, opts SubmitOptions) (*TransitionResult, error) {
	riskID = utils.NormalizeRiskID(riskID)
	if !s.roles.CanSubmit(actor) {
		return nil, s.deny(riskID, actor, "submit risks for review")
	}
	if !entity.IsValidRiskID(riskID) {
		return nil, &ValidationError{Field: "risk_id"}
	}

	req := workflow.Request{Action: workflow.ActionSubmit, NewCycle: opts.NewCycle}
	comment = strings.TrimSpace(utils.SanitizeString(comment))

	entry, err := s.store.AppendWith(ctx, riskID, func(history []entity.HistoryEntry) (entity.HistoryEntry, error) {
		current := workflow.CurrentState(history)
		next, err := s.approval.ValidateTransition(ctx, current, req)
		if err != nil {
			return entity.HistoryEntry{}, transitionError(riskID, current, req.Action, err)
		}

		cycle := entity.CurrentCycle(history)
		if s.approval.StartsNewCycle(current, req) {
			cycle++
		}

		return entity.HistoryEntry{
			RiskID:        riskID,
			Cycle:         cycle,
			Action:        req.Action,
			WorkflowState: next,
			Timestamp:     s.now().UTC(),
			UserID:        actor.ID,
			UserName:      actor.Name,
			Comments:      comment,
			NextActions:   workflow.NextActions(next, req),
		}, nil
	})
	if err != nil {
		s.logger.Error("Failed to submit risk", "risk_id", riskID, "user_id", actor.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Risk submitted for review",
		"risk_id", riskID,
		"user_id", actor.ID,
		"cycle", entry.Cycle,
		"sequence_no", entry.SequenceNo)

	return newTransitionResult(entry), nil
}

// ApproveRisk records a signed review decision
func (s *approvalManagerImpl) ApproveRisk(ctx context.Context, riskID string, actor port.Actor, req ApprovalRequest) (*TransitionResult, error) {
	riskID = utils.NormalizeRiskID(riskID)
	role, ok := s.roles.CanApprove(actor.Role)
	if !ok || !actor.IsAuthenticated() {
		return nil, s.deny(riskID, actor, "sign review decisions")
	}
	if !entity.IsValidRiskID(riskID) {
		return nil, &ValidationError{Field: "risk_id"}
	}

	signature := strings.TrimSpace(req.SignatureText)
	rationale := strings.TrimSpace(req.Rationale)
	conditions := workflow.NormalizeConditions(req.Conditions)
	switch {
	case !req.Decision.IsValid():
		return nil, &ValidationError{Field: "decision"}
	case signature == "":
		return nil, &ValidationError{Field: "signature_text"}
	case req.Decision == entity.DecisionReject && rationale == "":
		return nil, &ValidationError{Field: "rationale"}
	case req.Decision == entity.DecisionApproveWithConditions && len(conditions) == 0:
		return nil, &ValidationError{Field: "conditions"}
	}
	if rationale == "" {
		// An approval's attested statement doubles as its rationale
		rationale = signature
	}

	wreq := workflow.Request{
		Action:        req.Decision.Action(),
		SignatureText: signature,
		Conditions:    conditions,
		Rationale:     rationale,
	}

	entry, err := s.store.AppendWith(ctx, riskID, func(history []entity.HistoryEntry) (entity.HistoryEntry, error) {
		current := workflow.CurrentState(history)
		next, err := s.approval.ValidateTransition(ctx, current, wreq)
		if err != nil {
			return entity.HistoryEntry{}, transitionError(riskID, current, wreq.Action, err)
		}

		at := s.now().UTC()
		sig, err := entity.NewSignatureRecord(actor.ID, actor.Name, string(role),
			req.Decision, signature, conditions, rationale, at)
		if err != nil {
			return entity.HistoryEntry{}, err
		}

		return entity.HistoryEntry{
			RiskID:        riskID,
			Cycle:         entity.CurrentCycle(history),
			Action:        wreq.Action,
			WorkflowState: next,
			Timestamp:     at,
			UserID:        actor.ID,
			UserName:      actor.Name,
			Signature:     &sig,
			NextActions:   workflow.NextActions(next, wreq),
		}, nil
	})
	if err != nil {
		s.logger.Error("Failed to record review decision",
			"risk_id", riskID,
			"user_id", actor.ID,
			"decision", req.Decision,
			"error", err)
		return nil, err
	}

	s.logger.Info("Review decision recorded",
		"risk_id", riskID,
		"user_id", actor.ID,
		"role", role,
		"decision", req.Decision,
		"state", entry.WorkflowState,
		"sequence_no", entry.SequenceNo)

	return newTransitionResult(entry), nil
}

// RejectRisk records a signed rejection
func (s *approvalManagerImpl) RejectRisk(ctx context.Context, riskID string, actor port.Actor, signatureText, rationale string) (*TransitionResult, error) {
	return s.ApproveRisk(ctx, riskID, actor, ApprovalRequest{
		SignatureText: signatureText,
		Decision:      entity.DecisionReject,
		Rationale:     rationale,
	})
}

// GetCurrentWorkflowState returns the state after the last recorded transition
func (s *approvalManagerImpl) GetCurrentWorkflowState(ctx context.Context, riskID string, opts QueryOptions) (workflow.State, error) {
	history, err := s.GetWorkflowHistory(ctx, riskID, opts)
	if err != nil {
		return "", err
	}
	return workflow.CurrentState(history), nil
}

// GetWorkflowHistory returns every recorded transition in order
func (s *approvalManagerImpl) GetWorkflowHistory(ctx context.Context, riskID string, opts QueryOptions) ([]entity.HistoryEntry, error) {
	riskID = utils.NormalizeRiskID(riskID)
	if !entity.IsValidRiskID(riskID) {
		return nil, &ValidationError{Field: "risk_id"}
	}

	history, err := s.store.History(ctx, riskID)
	if err != nil {
		return nil, err
	}
	if opts.RequireKnown && len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRisk, riskID)
	}
	return history, nil
}

// GetPendingApprovalsForUser lists risks awaiting review that role should act on
func (s *approvalManagerImpl) GetPendingApprovalsForUser(ctx context.Context, role string) ([]string, error) {
	required := s.roles.RequiredApprover()
	if !s.roles.SeesPending(role, required) {
		return []string{}, nil
	}

	ids, err := s.store.RiskIDs(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		history, err := s.store.History(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.approval.AwaitsDecision(workflow.CurrentState(history)) {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// PermittedActions lists what may be requested next from state
func (s *approvalManagerImpl) PermittedActions(state workflow.State) []workflow.Action {
	return s.approval.PermittedActions(state)
}

// VerifyRisk recomputes one risk's checksum chain
func (s *approvalManagerImpl) VerifyRisk(ctx context.Context, riskID string) error {
	riskID = utils.NormalizeRiskID(riskID)
	if err := s.store.Verify(ctx, riskID); err != nil {
		s.logger.Error("Audit chain verification failed", "risk_id", riskID, "error", err)
		return err
	}
	return nil
}

// VerifyAll recomputes every checksum chain
func (s *approvalManagerImpl) VerifyAll(ctx context.Context) error {
	if err := s.store.VerifyAll(ctx); err != nil {
		s.logger.Error("Audit trail verification failed", "error", err)
		return err
	}
	return nil
}

// Export writes the audit trail in the requested format
func (s *approvalManagerImpl) Export(ctx context.Context, actor port.Actor, opts port.ExportOptions) (*port.ExportResult, error) {
	if !s.roles.Allows(actor, authz.PermAuditExport) {
		return nil, s.deny("", actor, "export the audit trail")
	}
	if s.exporter == nil {
		return nil, fmt.Errorf("%w: export is not configured", port.ErrUnsupportedFormat)
	}

	result, err := s.exporter.Export(ctx, opts)
	if err != nil {
		s.logger.Error("Audit export failed", "user_id", actor.ID, "format", opts.Format, "error", err)
		return nil, err
	}

	s.logger.Info("Audit trail exported",
		"user_id", actor.ID,
		"export_id", result.ExportID,
		"format", result.Format,
		"entries", result.ExportedEntries)
	return result, nil
}

// Backup snapshots the audit trail
func (s *approvalManagerImpl) Backup(ctx context.Context, actor port.Actor) (*port.BackupStats, error) {
	if !s.roles.Allows(actor, authz.PermAuditBackup) {
		return nil, s.deny("", actor, "back up the audit trail")
	}
	if err := s.requireBackups(); err != nil {
		return nil, err
	}

	stats, err := s.backups.Backup(ctx)
	if err != nil {
		s.logger.Error("Backup failed", "user_id", actor.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Backup created",
		"user_id", actor.ID,
		"backup_id", stats.BackupID,
		"files", stats.FilesBackedUp,
		"bytes", stats.BytesBackedUp)
	return stats, nil
}

// Restore replaces the audit trail with a verified backup
func (s *approvalManagerImpl) Restore(ctx context.Context, actor port.Actor, backupID string) error {
	if !s.roles.Allows(actor, authz.PermAuditRestore) {
		return s.deny("", actor, "restore the audit trail")
	}
	if err := s.requireBackups(); err != nil {
		return err
	}

	if err := s.backups.Restore(ctx, backupID); err != nil {
		s.logger.Error("Restore failed", "user_id", actor.ID, "backup_id", backupID, "error", err)
		return err
	}

	s.logger.Info("Backup restored", "user_id", actor.ID, "backup_id", backupID)
	return nil
}

// ListBackups lists completed backups, oldest first
func (s *approvalManagerImpl) ListBackups(ctx context.Context, actor port.Actor) ([]port.BackupInfo, error) {
	if !s.roles.Allows(actor, authz.PermAuditBackup) && !s.roles.Allows(actor, authz.PermAuditRestore) {
		return nil, s.deny("", actor, "list backups")
	}
	if err := s.requireBackups(); err != nil {
		return nil, err
	}
	return s.backups.ListBackups(ctx)
}

func (s *approvalManagerImpl) requireBackups() error {
	if s.backups == nil {
		return fmt.Errorf("%w: backups are not configured", port.ErrStorage)
	}
	return nil
}

// deny logs and builds an authorization failure
func (s *approvalManagerImpl) deny(riskID string, actor port.Actor, operation string) error {
	s.logger.Error("Authorization denied",
		"risk_id", riskID,
		"user_id", actor.ID,
		"role", actor.Role,
		"operation", operation)
	return &AuthorizationError{Role: actor.Role, Operation: operation}
}

func newTransitionResult(entry entity.HistoryEntry) *TransitionResult {
	return &TransitionResult{
		Entry:       entry,
		State:       entry.WorkflowState,
		NextActions: append([]string{}, entry.NextActions...),
	}
}
