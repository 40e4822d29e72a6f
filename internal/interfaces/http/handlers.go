package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/application/service"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/pkg/utils"
)

// Actor identity headers, set by the authentication proxy in front of the server
const (
	HeaderActorID          = "X-Actor-ID"
	HeaderActorName        = "X-Actor-Name"
	HeaderActorRole        = "X-Actor-Role"
	HeaderActorPermissions = "X-Actor-Permissions"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	approval service.ApprovalManager
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(approval service.ApprovalManager, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		approval: approval,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /api/risks/:id/submit
type SubmitRequest struct {
	Comment  string `json:"comment"`
	NewCycle bool   `json:"new_cycle"`
}

// ApproveRequest is the body of POST /api/risks/:id/approve
type ApproveRequest struct {
	Decision      string   `json:"decision"`
	SignatureText string   `json:"signature_text"`
	Conditions    []string `json:"conditions"`
	Rationale     string   `json:"rationale"`
}

// ExportRequest is the body of POST /api/exports
type ExportRequest struct {
	Format          string   `json:"format"`
	RiskIDs         []string `json:"risk_ids"`
	Actions         []string `json:"actions"`
	IncludeHeaders  *bool    `json:"include_headers"`
	IncludeMetadata bool     `json:"include_metadata"`
	MaxEntries      int      `json:"max_entries"`
}

// WorkflowResponse is a risk's current state and history
type WorkflowResponse struct {
	RiskID           string                `json:"risk_id"`
	State            workflow.State        `json:"state"`
	Label            string                `json:"label"`
	PermittedActions []workflow.Action     `json:"permitted_actions"`
	History          []entity.HistoryEntry `json:"history"`
}

// VerifyResponse reports a successful chain verification
type VerifyResponse struct {
	RiskID   string `json:"risk_id,omitempty"`
	Verified bool   `json:"verified"`
}

// PendingResponse lists the risks awaiting a role's review
type PendingResponse struct {
	Role    string   `json:"role"`
	RiskIDs []string `json:"risk_ids"`
}

// ReportResponse carries a rendered or saved report
type ReportResponse struct {
	Report string `json:"report,omitempty"`
	Path   string `json:"path,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health(c.Request.Context())
		response.Components = details
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// SubmitRisk handles POST /api/risks/:id/submit
func (h *Handlers) SubmitRisk(c *gin.Context) {
	var req SubmitRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.approval.SubmitRiskForReview(c.Request.Context(), c.Param("id"), actorFromRequest(c),
		req.Comment, service.SubmitOptions{NewCycle: req.NewCycle})
	if err != nil {
		h.fail(c, "Failed to submit risk", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// ApproveRisk handles POST /api/risks/:id/approve
func (h *Handlers) ApproveRisk(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	decision, err := entity.ParseDecision(req.Decision)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	result, err := h.approval.ApproveRisk(c.Request.Context(), c.Param("id"), actorFromRequest(c), service.ApprovalRequest{
		SignatureText: req.SignatureText,
		Decision:      decision,
		Conditions:    req.Conditions,
		Rationale:     req.Rationale,
	})
	if err != nil {
		h.fail(c, "Failed to record decision", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// GetWorkflow handles GET /api/risks/:id/workflow
func (h *Handlers) GetWorkflow(c *gin.Context) {
	riskID := utils.NormalizeRiskID(c.Param("id"))
	opts := service.QueryOptions{RequireKnown: c.Query("require_known") == "true"}

	history, err := h.approval.GetWorkflowHistory(c.Request.Context(), riskID, opts)
	if err != nil {
		h.fail(c, "Failed to read workflow", err)
		return
	}

	state := workflow.CurrentState(history)
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: WorkflowResponse{
			RiskID:           riskID,
			State:            state,
			Label:            state.Label(),
			PermittedActions: h.approval.PermittedActions(state),
			History:          history,
		},
	})
}

// VerifyRisk handles GET /api/risks/:id/verify
func (h *Handlers) VerifyRisk(c *gin.Context) {
	riskID := utils.NormalizeRiskID(c.Param("id"))
	if err := h.approval.VerifyRisk(c.Request.Context(), riskID); err != nil {
		h.fail(c, "Chain verification failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    VerifyResponse{RiskID: riskID, Verified: true},
	})
}

// VerifyAll handles GET /api/verify
func (h *Handlers) VerifyAll(c *gin.Context) {
	if err := h.approval.VerifyAll(c.Request.Context()); err != nil {
		h.fail(c, "Audit trail verification failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    VerifyResponse{Verified: true},
	})
}

// ListPending handles GET /api/pending. The role defaults to the caller's.
func (h *Handlers) ListPending(c *gin.Context) {
	role := c.Query("role")
	if role == "" {
		role = c.GetHeader(HeaderActorRole)
	}

	ids, err := h.approval.GetPendingApprovalsForUser(c.Request.Context(), role)
	if err != nil {
		h.fail(c, "Failed to list pending approvals", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    PendingResponse{Role: role, RiskIDs: ids},
	})
}

// GetReport handles GET /api/report; ?save=true writes it under the report directory
func (h *Handlers) GetReport(c *gin.Context) {
	if c.Query("save") == "true" {
		path, err := h.approval.SaveWorkflowReport(c.Request.Context())
		if err != nil {
			h.fail(c, "Failed to save report", err)
			return
		}
		c.JSON(http.StatusOK, Response{
			Success: true,
			Data:    ReportResponse{Path: path},
		})
		return
	}

	report, err := h.approval.GenerateWorkflowReport(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to generate report", err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, report)
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    ReportResponse{Report: report},
	})
}

// CreateExport handles POST /api/exports. The file is always written under the export directory.
func (h *Handlers) CreateExport(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	format, err := port.ParseExportFormat(req.Format)
	if err != nil {
		h.fail(c, "Invalid export format", err)
		return
	}

	opts := port.ExportOptions{
		Format:          format,
		RiskIDs:         req.RiskIDs,
		IncludeHeaders:  req.IncludeHeaders == nil || *req.IncludeHeaders,
		IncludeMetadata: req.IncludeMetadata,
		MaxEntries:      req.MaxEntries,
	}
	if len(req.Actions) > 0 {
		actions := make(map[workflow.Action]bool, len(req.Actions))
		for _, a := range req.Actions {
			action, err := workflow.ParseAction(a)
			if err != nil {
				h.fail(c, "Invalid export filter", err)
				return
			}
			actions[action] = true
		}
		opts.Filter = func(e entity.HistoryEntry) bool { return actions[e.Action] }
	}

	result, err := h.approval.Export(c.Request.Context(), actorFromRequest(c), opts)
	if err != nil {
		h.fail(c, "Export failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// CreateBackup handles POST /api/backups
func (h *Handlers) CreateBackup(c *gin.Context) {
	stats, err := h.approval.Backup(c.Request.Context(), actorFromRequest(c))
	if err != nil {
		h.fail(c, "Backup failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// ListBackups handles GET /api/backups
func (h *Handlers) ListBackups(c *gin.Context) {
	backups, err := h.approval.ListBackups(c.Request.Context(), actorFromRequest(c))
	if err != nil {
		h.fail(c, "Failed to list backups", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    backups,
	})
}

// RestoreBackup handles POST /api/backups/:id/restore
func (h *Handlers) RestoreBackup(c *gin.Context) {
	backupID := c.Param("id")
	if err := h.approval.Restore(c.Request.Context(), actorFromRequest(c), backupID); err != nil {
		h.fail(c, "Restore failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"backup_id": backupID, "restored": true},
	})
}

// bindOptionalJSON binds a JSON body when one is present
func (h *Handlers) bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return false
	}
	return true
}

// fail logs err and writes it with the status its kind maps to
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrValidation),
		errors.Is(err, workflow.ErrInvalidAction),
		errors.Is(err, port.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUnknownRisk),
		errors.Is(err, port.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, port.ErrChainBroken),
		errors.Is(err, port.ErrCorruptBackup):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// actorFromRequest reads the caller identity headers
func actorFromRequest(c *gin.Context) port.Actor {
	return port.Actor{
		ID:          c.GetHeader(HeaderActorID),
		Name:        c.GetHeader(HeaderActorName),
		Role:        c.GetHeader(HeaderActorRole),
		Permissions: utils.SplitList(c.GetHeader(HeaderActorPermissions)),
	}
}
