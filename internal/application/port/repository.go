package port

import (
	"context"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

// BuildFunc computes the next entry from the current partition history.
// It runs while the partition is locked, so the history it sees is exactly
// the chain the new entry will extend.
type BuildFunc func(history []entity.HistoryEntry) (entity.HistoryEntry, error)

// AuditStore defines the append-only, hash-chained audit trail, partitioned per risk
type AuditStore interface {
	// AppendWith builds, seals and appends an entry atomically with respect to other writers
	AppendWith(ctx context.Context, riskID string, build BuildFunc) (entity.HistoryEntry, error)

	// History returns entries in ascending sequence order, read from storage
	History(ctx context.Context, riskID string) ([]entity.HistoryEntry, error)

	// RiskIDs lists every partition with at least one entry, sorted
	RiskIDs(ctx context.Context) ([]string, error)

	// Verify recomputes the chain and reports the first broken entry
	Verify(ctx context.Context, riskID string) error

	// VerifyAll verifies every partition
	VerifyAll(ctx context.Context) error
}

// AuditExporter serializes the audit trail without mutating it
type AuditExporter interface {
	Export(ctx context.Context, opts ExportOptions) (*ExportResult, error)
}

// BackupManager copies and restores the whole audit trail
type BackupManager interface {
	Backup(ctx context.Context) (*BackupStats, error)
	Restore(ctx context.Context, backupID string) error
	ListBackups(ctx context.Context) ([]BackupInfo, error)
}
