package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"go.uber.org/zap"
)

const partitionExt = ".jsonl"

// Layout names the directories the audit store uses, relative to the data directory
type Layout struct {
	AuditDir  string
	BackupDir string
	ExportDir string
}

// DefaultLayout returns the standard directory layout
func DefaultLayout() Layout {
	return Layout{
		AuditDir:  "audit",
		BackupDir: "backups",
		ExportDir: "exports",
	}
}

// FileAuditStore implements the hash-chained audit trail as one JSONL file per
// risk. Each append rewrites the partition through FileStorage.Save, so a
// partition on disk is always a complete chain.
//
// Appends and reads hold the trail shared; backup and restore hold it
// exclusively so they see and replace a quiescent trail. Appends to one risk
// are serialized by that risk's lock. Every lock is taken both in process and
// on a lock file under the data directory, so several processes may share one
// trail.
type FileAuditStore struct {
	files   port.FileStorage
	backups port.FolderManager
	layout  Layout
	logger  *zap.Logger
	now     func() time.Time

	gate    sync.RWMutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileAuditStore creates an audit store. backups must be rooted at
// layout.BackupDir inside the same base directory as files.
func NewFileAuditStore(files port.FileStorage, backups port.FolderManager, layout Layout, logger *zap.Logger) *FileAuditStore {
	return &FileAuditStore{
		files:   files,
		backups: backups,
		layout:  layout,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// NewFileAuditStoreAt wires a store over dataDir with the default layout
func NewFileAuditStoreAt(dataDir string, logger *zap.Logger) *FileAuditStore {
	layout := DefaultLayout()
	return NewFileAuditStore(
		NewLocalFileStorage(dataDir, logger),
		NewLocalFolderManager(filepath.Join(dataDir, layout.BackupDir), logger),
		layout,
		logger,
	)
}

// SetClock overrides the time source used for entry and backup timestamps
func (s *FileAuditStore) SetClock(now func() time.Time) {
	s.now = now
}

// AppendWith builds the next entry from the locked partition and persists it.
// Nothing is written when build fails, the existing chain is broken, or the
// save fails.
func (s *FileAuditStore) AppendWith(ctx context.Context, riskID string, build port.BuildFunc) (entity.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return entity.HistoryEntry{}, err
	}
	if !entity.IsValidRiskID(riskID) {
		return entity.HistoryEntry{}, &workflow.ValidationError{Field: "risk_id"}
	}

	leave, err := s.enterShared(ctx)
	if err != nil {
		return entity.HistoryEntry{}, err
	}
	defer leave()

	unlock, err := s.lockPartition(ctx, riskID)
	if err != nil {
		return entity.HistoryEntry{}, err
	}
	defer unlock()

	raw, err := s.readPartition(ctx, riskID)
	if err != nil {
		return entity.HistoryEntry{}, err
	}
	history, err := verifyPartition(riskID, raw)
	if err != nil {
		s.logger.Error("Refusing to extend broken chain",
			zap.String("risk_id", riskID),
			zap.Error(err))
		return entity.HistoryEntry{}, err
	}

	entry, err := build(snapshotOf(history))
	if err != nil {
		return entity.HistoryEntry{}, err
	}
	entry, err = sealNext(riskID, history, entry, s.now)
	if err != nil {
		return entity.HistoryEntry{}, err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return entity.HistoryEntry{}, fmt.Errorf("%w: failed to encode entry: %w", port.ErrStorage, err)
	}

	content := make([]byte, 0, len(raw)+len(line)+1)
	content = append(content, raw...)
	content = append(content, line...)
	content = append(content, '\n')
	if err := s.files.Save(ctx, s.partitionPath(riskID), content); err != nil {
		return entity.HistoryEntry{}, err
	}

	s.logger.Info("Audit entry appended",
		zap.String("risk_id", riskID),
		zap.Int64("sequence_no", entry.SequenceNo),
		zap.String("action", string(entry.Action)),
		zap.String("workflow_state", string(entry.WorkflowState)),
		zap.String("user_id", entry.UserID))

	return entry.Clone(), nil
}

// History returns the partition's entries in ascending sequence order
func (s *FileAuditStore) History(ctx context.Context, riskID string) ([]entity.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !entity.IsValidRiskID(riskID) {
		return nil, &workflow.ValidationError{Field: "risk_id"}
	}

	leave, err := s.enterShared(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	raw, err := s.readLocked(ctx, riskID)
	if err != nil {
		return nil, err
	}
	return decodePartition(riskID, raw)
}

// RiskIDs lists every partition on disk, sorted
func (s *FileAuditStore) RiskIDs(ctx context.Context) ([]string, error) {
	leave, err := s.enterShared(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return s.riskIDs(ctx)
}

// Verify recomputes riskID's chain. A missing partition is a valid empty chain.
func (s *FileAuditStore) Verify(ctx context.Context, riskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !entity.IsValidRiskID(riskID) {
		return &workflow.ValidationError{Field: "risk_id"}
	}

	leave, err := s.enterShared(ctx)
	if err != nil {
		return err
	}
	defer leave()

	raw, err := s.readLocked(ctx, riskID)
	if err != nil {
		return err
	}
	_, err = verifyPartition(riskID, raw)
	return err
}

// VerifyAll verifies every partition and joins the failures
func (s *FileAuditStore) VerifyAll(ctx context.Context) error {
	leave, err := s.enterShared(ctx)
	if err != nil {
		return err
	}
	defer leave()

	ids, err := s.riskIDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := s.readLocked(ctx, id)
		if err != nil {
			return err
		}
		if _, err := verifyPartition(id, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.logger.Error("Audit trail verification failed",
			zap.Int("partitions", len(ids)),
			zap.Int("broken", len(errs)))
	}
	return errors.Join(errs...)
}

func (s *FileAuditStore) riskIDs(ctx context.Context) ([]string, error) {
	files, err := s.files.List(ctx, s.layout.AuditDir)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		id, ok := riskIDFromFile(f.Name)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileAuditStore) lockFor(riskID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[riskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[riskID] = lock
	}
	return lock
}

func (s *FileAuditStore) partitionPath(riskID string) string {
	return filepath.Join(s.layout.AuditDir, riskID+partitionExt)
}

// readLocked reads a partition under its in-process lock. Other processes
// replace partitions by rename, so a read always sees a complete file.
func (s *FileAuditStore) readLocked(ctx context.Context, riskID string) ([]byte, error) {
	lock := s.lockFor(riskID)
	lock.Lock()
	defer lock.Unlock()
	return s.readPartition(ctx, riskID)
}

// readPartition returns the raw partition bytes, or nil when it does not exist
func (s *FileAuditStore) readPartition(ctx context.Context, riskID string) ([]byte, error) {
	path := s.partitionPath(riskID)
	if !s.files.Exists(ctx, path) {
		return nil, nil
	}
	return s.files.Read(ctx, path)
}

// sealNext stamps a built entry as the next link of history
func sealNext(riskID string, history []entity.HistoryEntry, entry entity.HistoryEntry, now func() time.Time) (entity.HistoryEntry, error) {
	entry = entry.Clone()

	if entry.RiskID == "" {
		entry.RiskID = riskID
	}
	if entry.RiskID != riskID {
		return entity.HistoryEntry{}, fmt.Errorf("entry risk id %q does not match partition %q: %w",
			entry.RiskID, riskID, &workflow.ValidationError{Field: "risk_id"})
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	}
	if err := entry.Seal(int64(len(history))+1, entity.LastChecksum(history)); err != nil {
		return entity.HistoryEntry{}, err
	}
	return entry, nil
}

// snapshotOf deep-copies history for a build callback
func snapshotOf(history []entity.HistoryEntry) []entity.HistoryEntry {
	snapshot := make([]entity.HistoryEntry, len(history))
	for i, e := range history {
		snapshot[i] = e.Clone()
	}
	return snapshot
}

func riskIDFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, partitionExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, partitionExt)
	return id, entity.IsValidRiskID(id)
}

// splitLines splits partition content into lines without their newline.
// A trailing newline does not produce an empty final line.
func splitLines(raw []byte) [][]byte {
	if len(raw) == 0 {
		return nil
	}
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	return bytes.Split(raw, []byte("\n"))
}

// decodePartition parses every line, reporting the first unreadable one
func decodePartition(riskID string, raw []byte) ([]entity.HistoryEntry, error) {
	return decodeLines(riskID, splitLines(raw))
}

func decodeLines(riskID string, lines [][]byte) ([]entity.HistoryEntry, error) {
	entries := make([]entity.HistoryEntry, 0, len(lines))
	for i, line := range lines {
		var e entity.HistoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, &port.IntegrityError{
				RiskID:   riskID,
				Sequence: int64(i) + 1,
				Reason:   "unreadable entry: " + err.Error(),
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// verifyPartition decodes the partition and checks every link of its chain.
// Lines must also be exactly the bytes the store writes, so edits that the
// decoder would tolerate, such as key case changes, are still detected.
func verifyPartition(riskID string, raw []byte) ([]entity.HistoryEntry, error) {
	return verifyLines(riskID, splitLines(raw))
}

// verifyLines checks a chain given as one encoded entry per line
func verifyLines(riskID string, lines [][]byte) ([]entity.HistoryEntry, error) {
	entries, err := decodeLines(riskID, lines)
	if err != nil {
		return nil, err
	}

	prev := entity.GenesisChecksum
	for i, e := range entries {
		seq := int64(i) + 1
		broken := func(reason string) error {
			return &port.IntegrityError{RiskID: riskID, Sequence: seq, Reason: reason}
		}

		if e.SequenceNo != seq {
			return nil, broken(fmt.Sprintf("sequence_no %d out of order", e.SequenceNo))
		}
		if e.RiskID != riskID {
			return nil, broken(fmt.Sprintf("entry belongs to %q", e.RiskID))
		}
		if e.PrevChecksum != prev {
			return nil, broken("prev_checksum does not match preceding entry")
		}
		sum, err := e.ComputeChecksum()
		if err != nil {
			return nil, broken(err.Error())
		}
		if sum != e.Checksum {
			return nil, broken("checksum mismatch")
		}
		encoded, err := json.Marshal(e)
		if err != nil || !bytes.Equal(encoded, lines[i]) {
			return nil, broken("entry is not in canonical form")
		}
		prev = e.Checksum
	}

	return entries, nil
}

// Verify interface compliance
var _ port.AuditStore = (*FileAuditStore)(nil)
