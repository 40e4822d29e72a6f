package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/internal/infrastructure/storage"
)

func TestApprovalManager_GenerateWorkflowReport(t *testing.T) {
	ctx := context.Background()

	t.Run("empty trail", func(t *testing.T) {
		f := newFixture(t, workflow.DefaultOptions())

		text, err := f.manager.GenerateWorkflowReport(ctx)

		require.NoError(t, err)
		assert.Contains(t, text, "Risk Approval Workflow Report")
		assert.Contains(t, text, "Total risks: 0")
		assert.Contains(t, text, "No risks recorded.")
	})

	t.Run("states and signatures", func(t *testing.T) {
		f := newFixture(t, workflow.DefaultOptions())
		_, err := f.manager.SubmitRiskForReview(ctx, "RISK-010", engineer, "", SubmitOptions{})
		require.NoError(t, err)
		_, err = f.manager.ApproveRisk(ctx, "RISK-010", reviewer, approve("Acceptable per ISO 14971"))
		require.NoError(t, err)
		_, err = f.manager.SubmitRiskForReview(ctx, "RISK-011", engineer, "", SubmitOptions{})
		require.NoError(t, err)

		report, err := f.manager.BuildWorkflowReport(ctx)
		require.NoError(t, err)
		require.Len(t, report.Risks, 2)
		assert.Equal(t, 1, report.Counts[workflow.StateApproved])
		assert.Equal(t, 1, report.Counts[workflow.StateSubmitted])
		assert.Zero(t, report.Broken)

		text := report.Text()
		assert.Contains(t, text, "Total risks: 2")
		assert.Contains(t, text, "RISK-010  APPROVED  cycle 1  entries 2")
		assert.Contains(t, text, `signature: "Acceptable per ISO 14971" (APPROVE, quality_engineer)`)
		assert.Contains(t, text, "next: Quality Engineer review required")
		assert.Contains(t, text, "integrity: verified")
		assert.Less(t, strings.Index(text, "RISK-010"), strings.Index(text, "RISK-011"))
	})

	t.Run("broken chains are reported", func(t *testing.T) {
		f := newFixture(t, workflow.DefaultOptions())
		_, err := f.manager.SubmitRiskForReview(ctx, "RISK-012", engineer, "", SubmitOptions{})
		require.NoError(t, err)
		f.store.broken["RISK-012"] = true

		report, err := f.manager.BuildWorkflowReport(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Broken)
		assert.Contains(t, report.Text(), "Integrity failures: 1")
		assert.Contains(t, report.Text(), "checksum mismatch")
	})
}

func TestApprovalManager_SaveWorkflowReport(t *testing.T) {
	ctx := context.Background()

	t.Run("without report storage", func(t *testing.T) {
		f := newFixture(t, workflow.DefaultOptions())

		_, err := f.manager.SaveWorkflowReport(ctx)
		assert.Error(t, err)
	})

	t.Run("writes under the report directory", func(t *testing.T) {
		f := newFixture(t, workflow.DefaultOptions())
		dir := t.TempDir()
		f.manager.reports = storage.NewLocalFileStorage(dir, zap.NewNop())
		_, err := f.manager.SubmitRiskForReview(ctx, "RISK-013", engineer, "", SubmitOptions{})
		require.NoError(t, err)

		path, err := f.manager.SaveWorkflowReport(ctx)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "reports"), filepath.Dir(path))
		assert.True(t, strings.HasPrefix(filepath.Base(path), "workflow-report-"))
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "RISK-013")
	})
}

// The whole flow against the file-backed store, chain verification included.
func TestApprovalManager_FileStoreIntegration(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store := storage.NewFileAuditStoreAt(t.TempDir(), logger)

	f := newFixture(t, workflow.DefaultOptions())
	f.manager.store = store
	ctx := context.Background()

	_, err := f.manager.SubmitRiskForReview(ctx, "RISK-020", engineer, "", SubmitOptions{})
	require.NoError(t, err)
	_, err = f.manager.RejectRisk(ctx, "RISK-020", reviewer, "Rejected", "needs rework")
	require.NoError(t, err)
	_, err = f.manager.SubmitRiskForReview(ctx, "RISK-020", engineer, "", SubmitOptions{})
	require.NoError(t, err)

	history, err := f.manager.GetWorkflowHistory(ctx, "RISK-020", QueryOptions{RequireKnown: true})
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.SequenceNo)
	}
	assert.Equal(t, entity.GenesisChecksum, history[0].PrevChecksum)
	assert.Equal(t, history[1].Checksum, history[2].PrevChecksum)
	assert.NoError(t, f.manager.VerifyRisk(ctx, "RISK-020"))
	assert.NoError(t, f.manager.VerifyAll(ctx))
}
