// Package container provides dependency injection and lifecycle management
// for the risk approval workflow.
package container

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/application/service"
	"github.com/qmsforge/riskflow/internal/authz"
	"github.com/qmsforge/riskflow/internal/config"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/internal/infrastructure/storage"
	"github.com/qmsforge/riskflow/internal/infrastructure/worker"
	"go.uber.org/zap"
)

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage   port.FileStorage
	FolderManager port.FolderManager
	AuditStore    *storage.FileAuditStore
}

// ProvideStorage creates the data directory, its file storage and the audit store over it.
func ProvideStorage(cfg *config.Config, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dataDir := cfg.Storage.DataDir
	layout := cfg.ToStorageLayout()
	for _, dir := range []string{layout.AuditDir, layout.BackupDir, layout.ExportDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	files := storage.NewLocalFileStorage(dataDir, logger)
	folders := storage.NewLocalFolderManager(filepath.Join(dataDir, layout.BackupDir), logger)

	return &StorageBundle{
		FileStorage:   files,
		FolderManager: folders,
		AuditStore:    storage.NewFileAuditStore(files, folders, layout, logger),
	}, nil
}

// ProvideRoles builds the role table from the workflow configuration.
func ProvideRoles(cfg *config.Config, logger *zap.Logger) (*authz.Table, error) {
	table, err := cfg.ToPolicyTable()
	if err != nil {
		return nil, fmt.Errorf("failed to build role table: %w", err)
	}

	logger.Info("Role table loaded",
		zap.Int("roles", len(table.Roles())),
		zap.Stringers("approvers", table.ApproverRoles()),
		zap.String("required_approver", table.RequiredApprover().String()),
		zap.String("roles_file", cfg.Workflow.RolesFile))
	return table, nil
}

// ApprovalDeps holds what the approval manager is built from.
type ApprovalDeps struct {
	Config  *config.Config
	Storage *StorageBundle
	Roles   *authz.Table
	Logger  *zap.Logger
}

// ProvideApprovalManager creates the approval manager over the audit store.
func ProvideApprovalManager(deps *ApprovalDeps) (service.ApprovalManager, error) {
	if deps == nil || deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	store := deps.Storage.AuditStore
	return service.NewApprovalManager(service.Dependencies{
		Store:     store,
		Exporter:  store,
		Backups:   store,
		Reports:   deps.Storage.FileStorage,
		ReportDir: deps.Config.Storage.ReportDir,
		Roles:     deps.Roles,
		Approval:  workflow.NewApproval(deps.Config.ToWorkflowOptions()),
		Logger:    &zapLoggerAdapter{logger: deps.Logger},
	})
}

// ProvideWorkers registers the maintenance workers enabled by configuration.
// Workers are not started here.
func ProvideWorkers(cfg *config.Config, bundle *StorageBundle, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger)

	if cfg.Maintenance.VerifyInterval > 0 {
		manager.Register(worker.NewIntegrityWorker(bundle.AuditStore, cfg.Maintenance.VerifyInterval, logger))
	}
	if cfg.Maintenance.BackupInterval > 0 {
		manager.Register(worker.NewBackupWorker(bundle.AuditStore, cfg.Maintenance.BackupInterval, logger))
	}

	return manager
}
