package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qmsforge/riskflow/internal/application/port"
	"go.uber.org/zap"
)

const (
	manifestName    = "manifest.json"
	backupAuditDir  = "audit"
	restoreStageDir = ".restore"
)

// backupManifest is written last, so a backup without one never completed
type backupManifest struct {
	BackupID  string          `json:"backup_id"`
	Timestamp time.Time       `json:"timestamp"`
	TotalSize int64           `json:"total_size"`
	Files     []manifestEntry `json:"files"`
}

type manifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// NewBackupID returns backup-<UTC timestamp>-<8 hex>, which sorts by creation time
func NewBackupID(at time.Time) string {
	return fmt.Sprintf("backup-%s-%s", at.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

// Backup copies every partition into a new backup folder with a manifest of
// sizes and digests. Appends wait until the copy completes.
func (s *FileAuditStore) Backup(ctx context.Context) (*port.BackupStats, error) {
	start := time.Now()

	leave, err := s.enterExclusive(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	files, err := s.files.List(ctx, s.layout.AuditDir)
	if err != nil {
		return nil, err
	}

	parts := make([]partitionData, 0, len(files))
	for _, f := range files {
		riskID, ok := riskIDFromFile(f.Name)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.files.Read(ctx, filepath.Join(s.layout.AuditDir, f.Name))
		if err != nil {
			return nil, err
		}
		parts = append(parts, partitionData{RiskID: riskID, Data: data})
	}

	manifest, err := writeBackup(ctx, s.files, s.backups, s.layout.BackupDir, s.now().UTC(), parts, s.logger)
	if err != nil {
		return nil, err
	}
	return backupStats(manifest, start, s.logger), nil
}

// Restore replaces the active trail with a backup. The backup is checked
// against its manifest and every chain is verified before the swap; on any
// failure the active trail is left untouched.
func (s *FileAuditStore) Restore(ctx context.Context, backupID string) error {
	if !backupExists(s.backups, backupID) {
		return fmt.Errorf("%w: %q", port.ErrBackupNotFound, backupID)
	}

	leave, err := s.enterExclusive(ctx)
	if err != nil {
		return err
	}
	defer leave()

	parts, manifest, err := readBackup(ctx, s.files, s.layout.BackupDir, backupID)
	if err != nil {
		s.logger.Error("Restore failed",
			zap.String("backup_id", backupID),
			zap.Error(err))
		return err
	}

	stage := restoreStageDir + "-" + backupID
	if err := s.files.Delete(ctx, stage); err != nil {
		return err
	}

	swap := func() error {
		if len(parts) == 0 {
			return s.files.Delete(ctx, s.layout.AuditDir)
		}
		for _, p := range parts {
			if err := s.files.Save(ctx, filepath.Join(stage, p.RiskID+partitionExt), p.Data); err != nil {
				return err
			}
		}
		return s.files.ReplaceDir(ctx, stage, s.layout.AuditDir)
	}

	if err := swap(); err != nil {
		if delErr := s.files.Delete(ctx, stage); delErr != nil {
			s.logger.Warn("Failed to remove restore staging directory",
				zap.String("path", stage),
				zap.Error(delErr))
		}
		s.logger.Error("Restore failed",
			zap.String("backup_id", backupID),
			zap.Error(err))
		return err
	}

	s.logger.Info("Backup restored",
		zap.String("backup_id", backupID),
		zap.Int("files", len(manifest.Files)),
		zap.Int64("bytes", manifest.TotalSize))

	return nil
}

// ListBackups returns the completed backups, oldest first. Folders without a
// readable manifest are skipped.
func (s *FileAuditStore) ListBackups(ctx context.Context) ([]port.BackupInfo, error) {
	leave, err := s.enterShared(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return listBackups(ctx, s.files, s.backups, s.layout.BackupDir, s.logger)
}

// partitionData is one risk's chain in its on-disk JSONL form
type partitionData struct {
	RiskID string
	Data   []byte
}

func backupExists(folders port.FolderManager, backupID string) bool {
	return backupID != "" && folders.SanitizeName(backupID) == backupID && folders.Exists(backupID)
}

// writeBackup stores parts and then the manifest in a new backup folder.
// The folder is removed again when any write fails.
func writeBackup(ctx context.Context, files port.FileStorage, folders port.FolderManager, backupDir string, at time.Time, parts []partitionData, logger *zap.Logger) (*backupManifest, error) {
	backupID := NewBackupID(at)
	if _, err := folders.CreateFolder(ctx, backupID); err != nil {
		return nil, fmt.Errorf("%w: failed to create backup folder: %w", port.ErrStorage, err)
	}

	manifest := &backupManifest{
		BackupID:  backupID,
		Timestamp: at,
		Files:     []manifestEntry{},
	}

	copyAll := func() error {
		for _, p := range parts {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := p.RiskID + partitionExt
			if err := files.Save(ctx, backupPath(backupDir, backupID, backupAuditDir, name), p.Data); err != nil {
				return err
			}
			sum := sha256.Sum256(p.Data)
			manifest.Files = append(manifest.Files, manifestEntry{
				Name:   name,
				Size:   int64(len(p.Data)),
				SHA256: hex.EncodeToString(sum[:]),
			})
			manifest.TotalSize += int64(len(p.Data))
		}

		encoded, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: failed to encode manifest: %w", port.ErrStorage, err)
		}
		return files.Save(ctx, backupPath(backupDir, backupID, manifestName), encoded)
	}

	if err := copyAll(); err != nil {
		if delErr := folders.Delete(ctx, backupID); delErr != nil {
			logger.Warn("Failed to remove incomplete backup",
				zap.String("backup_id", backupID),
				zap.Error(delErr))
		}
		logger.Error("Backup failed",
			zap.String("backup_id", backupID),
			zap.Error(err))
		return nil, err
	}
	return manifest, nil
}

func backupStats(manifest *backupManifest, start time.Time, logger *zap.Logger) *port.BackupStats {
	stats := &port.BackupStats{
		BackupID:      manifest.BackupID,
		FilesBackedUp: len(manifest.Files),
		BytesBackedUp: manifest.TotalSize,
		DurationMs:    time.Since(start).Milliseconds(),
	}

	logger.Info("Backup created",
		zap.String("backup_id", stats.BackupID),
		zap.Int("files", stats.FilesBackedUp),
		zap.Int64("bytes", stats.BytesBackedUp),
		zap.Int64("duration_ms", stats.DurationMs))

	return stats
}

// readBackup loads every partition of a backup, checking each against the
// manifest and verifying its chain
func readBackup(ctx context.Context, files port.FileStorage, backupDir, backupID string) ([]partitionData, *backupManifest, error) {
	manifest, err := readManifest(ctx, files, backupDir, backupID)
	if err != nil {
		return nil, nil, err
	}

	listed, err := files.List(ctx, backupPath(backupDir, backupID, backupAuditDir))
	if err != nil {
		return nil, nil, err
	}
	if len(listed) != len(manifest.Files) {
		return nil, nil, corrupt(backupID, fmt.Sprintf("manifest lists %d files, backup holds %d", len(manifest.Files), len(listed)))
	}

	parts := make([]partitionData, 0, len(manifest.Files))
	for _, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		riskID, ok := riskIDFromFile(f.Name)
		if !ok || filepath.Base(f.Name) != f.Name {
			return nil, nil, corrupt(backupID, fmt.Sprintf("unexpected file %q", f.Name))
		}
		data, err := files.Read(ctx, backupPath(backupDir, backupID, backupAuditDir, f.Name))
		if err != nil {
			return nil, nil, corrupt(backupID, err.Error())
		}
		sum := sha256.Sum256(data)
		if int64(len(data)) != f.Size || hex.EncodeToString(sum[:]) != f.SHA256 {
			return nil, nil, corrupt(backupID, fmt.Sprintf("%s does not match manifest", f.Name))
		}
		if _, err := verifyPartition(riskID, data); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", port.ErrCorruptBackup, backupID, err)
		}
		parts = append(parts, partitionData{RiskID: riskID, Data: data})
	}
	return parts, manifest, nil
}

func listBackups(ctx context.Context, files port.FileStorage, folders port.FolderManager, backupDir string, logger *zap.Logger) ([]port.BackupInfo, error) {
	names, err := folders.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]port.BackupInfo, 0, len(names))
	for _, name := range names {
		manifest, err := readManifest(ctx, files, backupDir, name)
		if err != nil {
			logger.Warn("Skipping backup without valid manifest",
				zap.String("backup_id", name),
				zap.Error(err))
			continue
		}
		infos = append(infos, port.BackupInfo{
			BackupID:  manifest.BackupID,
			Timestamp: manifest.Timestamp,
			TotalSize: manifest.TotalSize,
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.Before(infos[j].Timestamp)
		}
		return infos[i].BackupID < infos[j].BackupID
	})
	return infos, nil
}

func readManifest(ctx context.Context, files port.FileStorage, backupDir, backupID string) (*backupManifest, error) {
	data, err := files.Read(ctx, backupPath(backupDir, backupID, manifestName))
	if err != nil {
		return nil, corrupt(backupID, "manifest unreadable")
	}
	var manifest backupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, corrupt(backupID, "manifest is not valid JSON")
	}
	if manifest.BackupID != backupID {
		return nil, corrupt(backupID, fmt.Sprintf("manifest names %q", manifest.BackupID))
	}
	return &manifest, nil
}

func backupPath(backupDir, backupID string, parts ...string) string {
	return filepath.Join(append([]string{backupDir, backupID}, parts...)...)
}

func corrupt(backupID, reason string) error {
	return fmt.Errorf("%w: %s: %s", port.ErrCorruptBackup, backupID, reason)
}

// Verify interface compliance
var _ port.BackupManager = (*FileAuditStore)(nil)
