package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/authz"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// memStore is an in-memory port.AuditStore
type memStore struct {
	mu         sync.Mutex
	partitions map[string][]entity.HistoryEntry
	appendErr  error
	broken     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		partitions: make(map[string][]entity.HistoryEntry),
		broken:     make(map[string]bool),
	}
}

func (m *memStore) AppendWith(ctx context.Context, riskID string, build port.BuildFunc) (entity.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.partitions[riskID]
	snapshot := make([]entity.HistoryEntry, len(history))
	for i, e := range history {
		snapshot[i] = e.Clone()
	}
	entry, err := build(snapshot)
	if err != nil {
		return entity.HistoryEntry{}, err
	}
	if m.appendErr != nil {
		return entity.HistoryEntry{}, m.appendErr
	}
	entry = entry.Clone()
	if err := entry.Seal(int64(len(history))+1, entity.LastChecksum(history)); err != nil {
		return entity.HistoryEntry{}, err
	}
	m.partitions[riskID] = append(history, entry)
	return entry.Clone(), nil
}

func (m *memStore) History(ctx context.Context, riskID string) ([]entity.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entity.HistoryEntry, 0, len(m.partitions[riskID]))
	for _, e := range m.partitions[riskID] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *memStore) RiskIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.partitions))
	for id := range m.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) Verify(ctx context.Context, riskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken[riskID] {
		return &port.IntegrityError{RiskID: riskID, Sequence: 1, Reason: "checksum mismatch"}
	}
	return nil
}

func (m *memStore) VerifyAll(ctx context.Context) error {
	ids, _ := m.RiskIDs(ctx)
	var errs []error
	for _, id := range ids {
		if err := m.Verify(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *memStore) count(riskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partitions[riskID])
}

type mockExporter struct {
	calls  int
	result *port.ExportResult
	err    error
}

func (m *mockExporter) Export(ctx context.Context, opts port.ExportOptions) (*port.ExportResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockBackups struct {
	backups  int
	restored []string
	list     []port.BackupInfo
	err      error
}

func (m *mockBackups) Backup(ctx context.Context) (*port.BackupStats, error) {
	m.backups++
	if m.err != nil {
		return nil, m.err
	}
	return &port.BackupStats{BackupID: "backup-20260301T090000Z-0a1b2c3d", FilesBackedUp: 1}, nil
}

func (m *mockBackups) Restore(ctx context.Context, backupID string) error {
	if m.err != nil {
		return m.err
	}
	m.restored = append(m.restored, backupID)
	return nil
}

func (m *mockBackups) ListBackups(ctx context.Context) ([]port.BackupInfo, error) {
	return m.list, m.err
}

type fixture struct {
	manager  *approvalManagerImpl
	store    *memStore
	exporter *mockExporter
	backups  *mockBackups
	logger   *mockLogger
}

func newFixture(t *testing.T, opts workflow.Options) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		exporter: &mockExporter{result: &port.ExportResult{ExportID: "exp-1", ExportedEntries: 2, Format: port.ExportFormatJSON}},
		backups:  &mockBackups{},
		logger:   &mockLogger{},
	}

	manager, err := NewApprovalManager(Dependencies{
		Store:    f.store,
		Exporter: f.exporter,
		Backups:  f.backups,
		Roles:    authz.MustNewTable(authz.DefaultPolicy()),
		Approval: workflow.NewApproval(opts),
		Logger:   f.logger,
	})
	require.NoError(t, err)

	f.manager = manager.(*approvalManagerImpl)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	f.manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return f
}

var (
	engineer = port.Actor{ID: "eng-1", Name: "Riley Engineer", Role: "risk_engineer"}
	reviewer = port.Actor{ID: "qe-1", Name: "Quinn Engineer", Role: "quality_engineer"}
	intern   = port.Actor{ID: "int-1", Name: "Ira Intern", Role: "intern"}
	admin    = port.Actor{ID: "adm-1", Name: "Ada Admin", Role: "admin"}
)
