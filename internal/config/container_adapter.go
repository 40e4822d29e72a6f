package config

import (
	"path/filepath"

	"github.com/qmsforge/riskflow/internal/authz"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/internal/infrastructure/storage"
	"github.com/qmsforge/riskflow/pkg/utils"
)

// ToPolicy converts the workflow section to an authorization policy
func (c *Config) ToPolicy() authz.Policy {
	return authz.Policy{
		SubmitterRoles:       c.Workflow.SubmitterRoles,
		ApproverRoles:        c.Workflow.ApproverRoles,
		RequiredApproverRole: c.Workflow.RequiredApproverRole,
		SupervisoryRoles:     c.Workflow.SupervisoryRoles,
		AdminRoles:           c.Workflow.AdminRoles,
	}
}

// ToPolicyTable builds the role table, applying the roles file when configured
func (c *Config) ToPolicyTable() (*authz.Table, error) {
	return authz.LoadTable(c.ToPolicy(), c.Workflow.RolesFile)
}

// ToWorkflowOptions converts the workflow section to state machine options
func (c *Config) ToWorkflowOptions() workflow.Options {
	return workflow.Options{AllowReopen: c.Workflow.AllowReopen}
}

// ToStorageLayout converts the storage section to the audit store layout
func (c *Config) ToStorageLayout() storage.Layout {
	return storage.Layout{
		AuditDir:  c.Storage.AuditDir,
		BackupDir: c.Storage.BackupDir,
		ExportDir: c.Storage.ExportDir,
	}
}

// ReportPath returns the directory saved reports are written to
func (c *Config) ReportPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.ReportDir)
}

// ToLoggerConfig converts the logger section for utils.NewLogger
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		App:        "riskflow",
	}
}
