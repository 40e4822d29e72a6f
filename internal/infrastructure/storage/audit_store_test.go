package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*FileAuditStore, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	store := NewFileAuditStoreAt(dir, logger)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return store, dir
}

func appendDraft(ctx context.Context, store *FileAuditStore, draft entity.HistoryEntry) (entity.HistoryEntry, error) {
	return store.AppendWith(ctx, draft.RiskID, func([]entity.HistoryEntry) (entity.HistoryEntry, error) {
		return draft, nil
	})
}

func submitDraft(riskID, user string) entity.HistoryEntry {
	return entity.HistoryEntry{
		RiskID:        riskID,
		Cycle:         1,
		Action:        workflow.ActionSubmit,
		WorkflowState: workflow.StateSubmitted,
		UserID:        user,
		UserName:      "User " + user,
		Comments:      "ready for review",
		NextActions:   []string{"Quality Engineer review required"},
	}
}

func approveDraft(riskID string) entity.HistoryEntry {
	sig, _ := entity.NewSignatureRecord("qe-1", "Quinn Engineer", "quality_engineer",
		entity.DecisionApprove, "Approved: controls adequate", nil, "controls adequate",
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return entity.HistoryEntry{
		RiskID:        riskID,
		Cycle:         1,
		Action:        workflow.ActionApprove,
		WorkflowState: workflow.StateApproved,
		UserID:        "qe-1",
		UserName:      "Quinn Engineer",
		Signature:     &sig,
		NextActions:   []string{"Implement risk controls", "Monitor residual risk"},
	}
}

func appendN(t *testing.T, store *FileAuditStore, riskID string, n int) []entity.HistoryEntry {
	t.Helper()
	var out []entity.HistoryEntry
	for i := 0; i < n; i++ {
		e, err := appendDraft(context.Background(), store, submitDraft(riskID, fmt.Sprintf("user-%d", i)))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func partitionFile(dir, riskID string) string {
	return filepath.Join(dir, "audit", riskID+".jsonl")
}

func TestFileAuditStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("chains entries from genesis", func(t *testing.T) {
		store, _ := newTestStore(t)

		first, err := appendDraft(ctx, store, submitDraft("RISK-010", "eng-1"))
		require.NoError(t, err)
		second, err := appendDraft(ctx, store, approveDraft("RISK-010"))
		require.NoError(t, err)

		assert.Equal(t, int64(1), first.SequenceNo)
		assert.Equal(t, entity.GenesisChecksum, first.PrevChecksum)
		assert.Len(t, first.Checksum, 64)
		assert.Equal(t, int64(2), second.SequenceNo)
		assert.Equal(t, first.Checksum, second.PrevChecksum)
		assert.False(t, first.Timestamp.IsZero())

		require.NoError(t, store.Verify(ctx, "RISK-010"))
	})

	t.Run("history round-trips appended entries", func(t *testing.T) {
		store, _ := newTestStore(t)

		appended := []entity.HistoryEntry{}
		e, err := appendDraft(ctx, store, submitDraft("RISK-011", "eng-1"))
		require.NoError(t, err)
		appended = append(appended, e)
		e, err = appendDraft(ctx, store, approveDraft("RISK-011"))
		require.NoError(t, err)
		appended = append(appended, e)

		history, err := store.History(ctx, "RISK-011")
		require.NoError(t, err)
		require.Len(t, history, 2)
		for i := range history {
			assert.Equal(t, appended[i].Checksum, history[i].Checksum)
			assert.True(t, appended[i].Timestamp.Equal(history[i].Timestamp))
			assert.Equal(t, appended[i].Decision(), history[i].Decision())
		}
		assert.Equal(t, workflow.StateApproved, workflow.CurrentState(history))
	})

	t.Run("partitions are independent", func(t *testing.T) {
		store, _ := newTestStore(t)

		appendN(t, store, "RISK-001", 2)
		other, err := appendDraft(ctx, store, submitDraft("RISK-002", "eng-2"))
		require.NoError(t, err)

		assert.Equal(t, int64(1), other.SequenceNo)
		assert.Equal(t, entity.GenesisChecksum, other.PrevChecksum)

		ids, err := store.RiskIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"RISK-001", "RISK-002"}, ids)
	})

	t.Run("rejects invalid risk id", func(t *testing.T) {
		store, dir := newTestStore(t)

		_, err := appendDraft(ctx, store, submitDraft("../escape", "eng-1"))
		assert.ErrorIs(t, err, workflow.ErrValidation)

		_, statErr := os.Stat(filepath.Join(dir, "audit"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("build error appends nothing", func(t *testing.T) {
		store, _ := newTestStore(t)
		appendN(t, store, "RISK-012", 1)
		boom := errors.New("guard failed")

		_, err := store.AppendWith(ctx, "RISK-012", func([]entity.HistoryEntry) (entity.HistoryEntry, error) {
			return entity.HistoryEntry{}, boom
		})
		assert.ErrorIs(t, err, boom)

		history, err := store.History(ctx, "RISK-012")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("build sees current history", func(t *testing.T) {
		store, _ := newTestStore(t)
		appendN(t, store, "RISK-013", 2)

		var seen int
		_, err := store.AppendWith(ctx, "RISK-013", func(history []entity.HistoryEntry) (entity.HistoryEntry, error) {
			seen = len(history)
			return submitDraft("RISK-013", "eng-3"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, seen)
	})

	t.Run("mismatched risk id is rejected", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.AppendWith(ctx, "RISK-014", func([]entity.HistoryEntry) (entity.HistoryEntry, error) {
			return submitDraft("RISK-015", "eng-1"), nil
		})
		assert.ErrorIs(t, err, workflow.ErrValidation)
	})

	t.Run("missing partition reads as empty", func(t *testing.T) {
		store, _ := newTestStore(t)

		history, err := store.History(ctx, "RISK-404")
		require.NoError(t, err)
		assert.Empty(t, history)
		assert.NoError(t, store.Verify(ctx, "RISK-404"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		store, _ := newTestStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := appendDraft(cctx, store, submitDraft("RISK-016", "eng-1"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFileAuditStore_ConcurrentAppends(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := appendDraft(ctx, store, submitDraft("RISK-100", fmt.Sprintf("user-%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "RISK-100")
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.SequenceNo)
	}
	assert.NoError(t, store.Verify(ctx, "RISK-100"))
}

func TestFileAuditStore_Verify(t *testing.T) {
	ctx := context.Background()

	tamper := func(t *testing.T, dir string, mutate func(lines [][]byte) [][]byte) {
		t.Helper()
		path := partitionFile(dir, "RISK-010")
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := bytes.Split(bytes.TrimSuffix(raw, []byte("\n")), []byte("\n"))
		lines = mutate(lines)
		require.NoError(t, os.WriteFile(path, append(bytes.Join(lines, []byte("\n")), '\n'), 0o644))
	}

	assertBrokenAt := func(t *testing.T, err error, seq int64) {
		t.Helper()
		require.ErrorIs(t, err, port.ErrChainBroken)
		var integrity *port.IntegrityError
		require.True(t, errors.As(err, &integrity))
		assert.Equal(t, "RISK-010", integrity.RiskID)
		assert.Equal(t, seq, integrity.Sequence)
	}

	t.Run("single byte change in a field", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 3)

		tamper(t, dir, func(lines [][]byte) [][]byte {
			lines[1] = bytes.Replace(lines[1], []byte("user-1"), []byte("user-9"), 1)
			return lines
		})

		assertBrokenAt(t, store.Verify(ctx, "RISK-010"), 2)
	})

	t.Run("key case change", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 3)

		tamper(t, dir, func(lines [][]byte) [][]byte {
			lines[2] = bytes.Replace(lines[2], []byte(`"user_name"`), []byte(`"User_name"`), 1)
			return lines
		})

		assertBrokenAt(t, store.Verify(ctx, "RISK-010"), 3)
	})

	t.Run("deleted entry", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 3)

		tamper(t, dir, func(lines [][]byte) [][]byte {
			return [][]byte{lines[0], lines[2]}
		})

		assertBrokenAt(t, store.Verify(ctx, "RISK-010"), 2)
	})

	t.Run("unparseable line", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 2)

		tamper(t, dir, func(lines [][]byte) [][]byte {
			lines[0] = []byte("{not json")
			return lines
		})

		assertBrokenAt(t, store.Verify(ctx, "RISK-010"), 1)
		_, err := store.History(ctx, "RISK-010")
		assertBrokenAt(t, err, 1)
	})

	t.Run("append refuses broken chain", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 2)
		tamper(t, dir, func(lines [][]byte) [][]byte {
			lines[0] = bytes.Replace(lines[0], []byte("ready"), []byte("Ready"), 1)
			return lines
		})
		before, err := os.ReadFile(partitionFile(dir, "RISK-010"))
		require.NoError(t, err)

		_, err = appendDraft(ctx, store, submitDraft("RISK-010", "eng-9"))
		assertBrokenAt(t, err, 1)

		after, err := os.ReadFile(partitionFile(dir, "RISK-010"))
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("verify all joins failures", func(t *testing.T) {
		store, dir := newTestStore(t)
		appendN(t, store, "RISK-010", 2)
		appendN(t, store, "RISK-020", 2)
		require.NoError(t, store.VerifyAll(ctx))

		tamper(t, dir, func(lines [][]byte) [][]byte {
			lines[1] = bytes.Replace(lines[1], []byte("user-1"), []byte("user-7"), 1)
			return lines
		})

		err := store.VerifyAll(ctx)
		assertBrokenAt(t, err, 2)
		assert.NoError(t, store.Verify(ctx, "RISK-020"))
	})
}

// failingStorage fails every Save after the first okSaves calls
type failingStorage struct {
	*LocalFileStorage
	mu      sync.Mutex
	okSaves int
}

func (f *failingStorage) Save(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.okSaves <= 0 {
		return fmt.Errorf("%w: disk full", port.ErrStorage)
	}
	f.okSaves--
	return f.LocalFileStorage.Save(ctx, path, content)
}

func TestFileAuditStore_FailedSaveLeavesLogUnchanged(t *testing.T) {
	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	files := &failingStorage{LocalFileStorage: NewLocalFileStorage(dir, logger), okSaves: 2}
	store := NewFileAuditStore(files, NewLocalFolderManager(filepath.Join(dir, "backups"), logger), DefaultLayout(), logger)
	ctx := context.Background()

	appendN(t, store, "RISK-030", 2)
	before, err := os.ReadFile(partitionFile(dir, "RISK-030"))
	require.NoError(t, err)

	_, err = appendDraft(ctx, store, submitDraft("RISK-030", "eng-3"))
	assert.ErrorIs(t, err, port.ErrStorage)

	after, err := os.ReadFile(partitionFile(dir, "RISK-030"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	history, err := store.History(ctx, "RISK-030")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.NoError(t, store.Verify(ctx, "RISK-030"))
}
