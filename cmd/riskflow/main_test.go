package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t       *testing.T
	dataDir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("RISKFLOW_DATA_DIR", dataDir)
	t.Setenv("RISKFLOW_LOG_LEVEL", "error")
	t.Setenv(envUserID, "")
	t.Setenv(envUserName, "")
	t.Setenv(envRole, "")
	t.Setenv(envPermissions, "")
	return &cli{t: t, dataDir: dataDir}
}

// run executes the CLI with an isolated config and returns exit code, stdout and stderr
func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	base := []string{"--config", filepath.Join(c.dataDir, "missing.yaml"), "--env-file", ""}
	code := run(append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, stdout, stderr := c.run(args...)
	require.Equal(c.t, 0, code, "riskflow %v: %s", args, stderr)
	return stdout
}

var (
	asEngineer = []string{"--user-id", "eng-1", "--user-name", "Riley Engineer", "--role", "risk_engineer"}
	asReviewer = []string{"--user-id", "qe-1", "--user-name", "Quinn Engineer", "--role", "quality_engineer"}
	asIntern   = []string{"--user-id", "int-1", "--user-name", "Ira Intern", "--role", "intern"}
	asAdmin    = []string{"--user-id", "adm-1", "--user-name", "Ada Admin", "--role", "admin"}
)

func as(actor []string, args ...string) []string {
	return append(append([]string{}, actor...), args...)
}

func TestUsage(t *testing.T) {
	c := newCLI(t)

	code, _, stderr := c.run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: riskflow")
	assert.Contains(t, stderr, "submit")

	code, _, stderr = c.run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = c.run("--help")
	assert.Equal(t, 0, code)
}

func TestRisk010Scenario(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun(as(asEngineer, "submit", "RISK-010", "--comment", "initial")...)
	assert.Contains(t, out, "RISK-010 is now SUBMITTED (entry 1, cycle 1)")
	assert.Contains(t, out, "next: Quality Engineer review required")

	out = c.mustRun(as(asReviewer, "approve", "RISK-010", "--signature", "Acceptable per ISO 14971")...)
	assert.Contains(t, out, "RISK-010 is now APPROVED (entry 2, cycle 1)")

	code, _, stderr := c.run(as(asIntern, "approve", "RISK-010", "--signature", "Looks fine")...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error: unauthorized")

	out = c.mustRun("workflow", "risk-010")
	assert.Contains(t, out, "RISK-010: APPROVED")
	assert.Contains(t, out, "allowed next: SUBMIT")
	assert.Contains(t, out, `signed "Acceptable per ISO 14971" as quality_engineer`)
	assert.Equal(t, 2, strings.Count(out, "  #"))
}

func TestRisk020Scenario(t *testing.T) {
	c := newCLI(t)

	c.mustRun(as(asEngineer, "submit", "RISK-020")...)
	out := c.mustRun(as(asReviewer, "approve", "RISK-020", "--reject", "--signature", "Rejected", "--rationale", "needs rework")...)
	assert.Contains(t, out, "RISK-020 is now REJECTED")
	c.mustRun(as(asEngineer, "submit", "RISK-020", "--comment", "reworked")...)

	out = c.mustRun("--json", "workflow", "RISK-020")
	var view struct {
		State   string `json:"state"`
		History []struct {
			WorkflowState string `json:"workflow_state"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "SUBMITTED", view.State)
	require.Len(t, view.History, 3)
	assert.Equal(t, "REJECTED", view.History[1].WorkflowState)

	out = c.mustRun("verify", "RISK-020")
	assert.Contains(t, out, "RISK-020: chain verified")
}

func TestSubcommandFlagsAndEnvironmentActor(t *testing.T) {
	c := newCLI(t)
	t.Setenv(envUserID, "eng-2")
	t.Setenv(envRole, "risk_engineer")

	c.mustRun("submit", "RISK-030")
	out := c.mustRun("approve", "RISK-030", "--signature", "ok",
		"--conditions", "Add interlock test,Update IFU",
		"--user-id", "cmo-1", "--role", "cmo")

	assert.Contains(t, out, "APPROVED_WITH_CONDITIONS")
	assert.Contains(t, out, "next: Satisfy condition: Add interlock test")
	assert.Contains(t, out, "next: Satisfy condition: Update IFU")
}

func TestErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"missing risk id", as(asEngineer, "submit"), 2, "expected 1 argument(s)"},
		{"extra argument", as(asEngineer, "submit", "RISK-040", "RISK-041"), 2, "expected 1 argument(s)"},
		{"unknown flag", as(asEngineer, "submit", "RISK-040", "--urgent"), 2, "unknown flag: --urgent"},
		{"verify two risks", []string{"verify", "RISK-040", "RISK-041"}, 2, "at most one risk id"},
		{"reject and conditions", as(asReviewer, "approve", "RISK-041", "--signature", "ok", "--reject", "--conditions", "x"), 2, "cannot be combined"},
		{"malformed risk id", as(asEngineer, "submit", "R-1"), 1, "risk_id is required"},
		{"no actor", []string{"submit", "RISK-040"}, 1, "unauthorized"},
		{"approve unsubmitted", as(asReviewer, "approve", "RISK-041", "--signature", "ok"), 1, "invalid state transition"},
		{"unknown risk", []string{"workflow", "RISK-404", "--require-known"}, 1, "unknown risk"},
		{"bad format", as(asAdmin, "export", "--format", "docx"), 1, "unsupported export format"},
		{"unknown backup", as(asAdmin, "restore", "backup-missing"), 1, "backup not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := c.run(tt.args...)

			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr, "Error:")
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestPendingAndReport(t *testing.T) {
	c := newCLI(t)
	c.mustRun(as(asEngineer, "submit", "RISK-002")...)
	c.mustRun(as(asEngineer, "submit", "RISK-001")...)

	out := c.mustRun(as(asReviewer, "pending")...)
	assert.Equal(t, "RISK-001\nRISK-002\n", out)

	out = c.mustRun("pending", "--role", "cmo")
	assert.Equal(t, "No pending approvals.\n", out)

	out = c.mustRun("report")
	assert.Contains(t, out, "Risk Approval Workflow Report")
	assert.Contains(t, out, "Total risks: 2")

	out = c.mustRun("report", "--save")
	path := strings.TrimSpace(strings.TrimPrefix(out, "Report saved to "))
	assert.Equal(t, filepath.Join(c.dataDir, "reports"), filepath.Dir(path))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestExportBackupRestore(t *testing.T) {
	c := newCLI(t)
	c.mustRun(as(asEngineer, "submit", "RISK-050")...)

	code, _, stderr := c.run(as(asReviewer, "export")...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unauthorized")

	out := c.mustRun(as(asAdmin, "export", "--format", "csv")...)
	assert.Regexp(t, regexp.MustCompile(`Exported 1 entries \(csv, \d+ bytes\) to .*exports/audit-trail-.*\.csv`), out)

	target := filepath.Join(t.TempDir(), "trail.xlsx")
	c.mustRun(as(asAdmin, "export", "--format", "xlsx", "--output", target, "--metadata")...)
	_, err := os.Stat(target)
	assert.NoError(t, err)

	out = c.mustRun(as(asAdmin, "export", "--format", "sqlite", "--risk", "RISK-050")...)
	assert.Regexp(t, regexp.MustCompile(`Exported 1 entries \(sqlite, \d+ bytes\) to .*\.sqlite`), out)

	out = c.mustRun(as(asAdmin, "--json", "backup")...)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.NotEmpty(t, stats["backup_id"])
	assert.Contains(t, stats, "duration_ms")
	backupID := stats["backup_id"].(string)

	c.mustRun(as(asReviewer, "approve", "RISK-050", "--signature", "ok")...)

	out = c.mustRun(as(asAdmin, "backups")...)
	assert.Contains(t, out, backupID)

	out = c.mustRun(as(asAdmin, "restore", backupID)...)
	assert.Contains(t, out, "Restored "+backupID)

	out = c.mustRun(as(asAdmin, "--json", "restore", backupID)...)
	assert.JSONEq(t, `{"backup_id": "`+backupID+`", "restored": true}`, out)

	out = c.mustRun("workflow", "RISK-050")
	assert.Contains(t, out, "RISK-050: SUBMITTED")
}

func TestVerifyDetectsTampering(t *testing.T) {
	c := newCLI(t)
	c.mustRun(as(asEngineer, "submit", "RISK-060", "--comment", "initial")...)
	c.mustRun(as(asReviewer, "approve", "RISK-060", "--signature", "ok")...)

	out := c.mustRun("--json", "verify", "risk-060")
	assert.JSONEq(t, `{"risk_id": "RISK-060", "verified": true}`, out)
	out = c.mustRun("--json", "verify")
	assert.JSONEq(t, `{"verified": true}`, out)

	path := filepath.Join(c.dataDir, "audit", "RISK-060.jsonl")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(raw, []byte("initial"), []byte("altered"), 1), 0644))

	code, _, stderr := c.run("verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "RISK-060 at sequence 1")
}
