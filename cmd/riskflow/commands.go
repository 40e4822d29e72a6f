package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/application/service"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	httpapi "github.com/qmsforge/riskflow/internal/interfaces/http"
	"github.com/qmsforge/riskflow/pkg/utils"
)

// usageError marks a malformed invocation, reported with exit status 2
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// parseFlags parses args into fs, wrapping flag errors other than --help
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return &usageError{err: err}
	}
	return nil
}

// flagSet builds a sub-command flag set that also accepts the actor flags
func (a *app) flagSet(name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: riskflow %s\n%s", usage, fs.FlagUsages())
	}
	return fs
}

// parse adds the actor flags, parses args and applies any actor override
func (a *app) parse(fs *pflag.FlagSet, args []string, positional int) ([]string, error) {
	userID := fs.String("user-id", "", "acting user id")
	userName := fs.String("user-name", "", "acting user name")
	role := fs.String("role", "", "acting user role")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if *userID != "" {
		a.actor.ID = *userID
	}
	if *userName != "" {
		a.actor.Name = *userName
	}
	if *role != "" {
		a.actor.Role = *role
	}

	if fs.NArg() != positional {
		fs.Usage()
		return nil, usagef("%s: expected %d argument(s), got %d", fs.Name(), positional, fs.NArg())
	}
	return fs.Args(), nil
}

// output prints v as JSON when --json is set, otherwise runs text
func (a *app) output(v interface{}, text func()) error {
	if !a.json {
		text()
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(a.stdout, string(data))
	return nil
}

func (a *app) manager() service.ApprovalManager {
	return a.container.ApprovalManager()
}

func runSubmit(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("submit", "submit <risk_id> [--comment text] [--new-cycle]")
	comment := fs.String("comment", "", "submission comment")
	newCycle := fs.Bool("new-cycle", false, "reopen an approved risk for a new review cycle")
	rest, err := a.parse(fs, args, 1)
	if err != nil {
		return err
	}

	result, err := a.manager().SubmitRiskForReview(ctx, rest[0], a.actor, *comment, service.SubmitOptions{NewCycle: *newCycle})
	if err != nil {
		return err
	}
	return a.output(result, func() { printTransition(a, result) })
}

func runApprove(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("approve", "approve <risk_id> --signature text [--reject] [--conditions c1,c2] [--rationale text]")
	signature := fs.String("signature", "", "signature statement")
	reject := fs.Bool("reject", false, "reject instead of approving")
	conditions := fs.StringSlice("conditions", nil, "approve subject to these conditions")
	rationale := fs.String("rationale", "", "decision rationale (required to reject)")
	rest, err := a.parse(fs, args, 1)
	if err != nil {
		return err
	}

	decision := entity.DecisionApprove
	switch {
	case *reject && len(*conditions) > 0:
		return usagef("--reject and --conditions cannot be combined")
	case *reject:
		decision = entity.DecisionReject
	case len(*conditions) > 0:
		decision = entity.DecisionApproveWithConditions
	}

	result, err := a.manager().ApproveRisk(ctx, rest[0], a.actor, service.ApprovalRequest{
		SignatureText: *signature,
		Decision:      decision,
		Conditions:    *conditions,
		Rationale:     *rationale,
	})
	if err != nil {
		return err
	}
	return a.output(result, func() { printTransition(a, result) })
}

func printTransition(a *app, result *service.TransitionResult) {
	e := result.Entry
	fmt.Fprintf(a.stdout, "%s is now %s (entry %d, cycle %d)\n", e.RiskID, result.State, e.SequenceNo, e.Cycle)
	for _, next := range result.NextActions {
		fmt.Fprintf(a.stdout, "  next: %s\n", next)
	}
}

func runWorkflow(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("workflow", "workflow <risk_id> [--require-known]")
	requireKnown := fs.Bool("require-known", false, "fail when the risk has no history")
	rest, err := a.parse(fs, args, 1)
	if err != nil {
		return err
	}

	history, err := a.manager().GetWorkflowHistory(ctx, rest[0], service.QueryOptions{RequireKnown: *requireKnown})
	if err != nil {
		return err
	}
	state := workflow.CurrentState(history)
	riskID := utils.NormalizeRiskID(rest[0])

	permitted := a.manager().PermittedActions(state)

	view := struct {
		RiskID           string                `json:"risk_id"`
		State            workflow.State        `json:"state"`
		PermittedActions []workflow.Action     `json:"permitted_actions"`
		History          []entity.HistoryEntry `json:"history"`
	}{riskID, state, permitted, history}

	return a.output(view, func() {
		fmt.Fprintf(a.stdout, "%s: %s (%s)\n", riskID, state, state.Label())
		if len(permitted) > 0 {
			names := make([]string, len(permitted))
			for i, act := range permitted {
				names[i] = act.String()
			}
			fmt.Fprintf(a.stdout, "  allowed next: %s\n", strings.Join(names, ", "))
		}
		for _, e := range history {
			fmt.Fprintf(a.stdout, "  #%d %s  %-24s %-25s %s (%s)\n",
				e.SequenceNo, e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.WorkflowState, e.UserName, e.UserID)
			if e.Comments != "" {
				fmt.Fprintf(a.stdout, "      comment: %s\n", e.Comments)
			}
			if sig := e.Signature; sig != nil {
				fmt.Fprintf(a.stdout, "      signed %q as %s\n", sig.SignatureText, sig.AuthorityLevel)
				if sig.Rationale != "" {
					fmt.Fprintf(a.stdout, "      rationale: %s\n", sig.Rationale)
				}
				for _, c := range sig.Conditions {
					fmt.Fprintf(a.stdout, "      condition: %s\n", c)
				}
			}
		}
	})
}

func runPending(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("pending", "pending [--role r]")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	ids, err := a.manager().GetPendingApprovalsForUser(ctx, a.actor.Role)
	if err != nil {
		return err
	}
	return a.output(ids, func() {
		if len(ids) == 0 {
			fmt.Fprintln(a.stdout, "No pending approvals.")
			return
		}
		for _, id := range ids {
			fmt.Fprintln(a.stdout, id)
		}
	})
}

func runReport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("report", "report [--save]")
	save := fs.Bool("save", false, "write the report under the report directory")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	if *save {
		path, err := a.manager().SaveWorkflowReport(ctx)
		if err != nil {
			return err
		}
		return a.output(map[string]string{"path": path}, func() {
			fmt.Fprintf(a.stdout, "Report saved to %s\n", path)
		})
	}

	report, err := a.manager().GenerateWorkflowReport(ctx)
	if err != nil {
		return err
	}
	return a.output(map[string]string{"report": report}, func() {
		fmt.Fprint(a.stdout, report)
	})
}

func runVerify(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("verify", "verify [risk_id]")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return usagef("verify: expected at most one risk id")
	}

	view := struct {
		RiskID   string `json:"risk_id,omitempty"`
		Verified bool   `json:"verified"`
	}{Verified: true}

	if fs.NArg() == 1 {
		view.RiskID = utils.NormalizeRiskID(fs.Arg(0))
		if err := a.manager().VerifyRisk(ctx, fs.Arg(0)); err != nil {
			return err
		}
		return a.output(view, func() {
			fmt.Fprintf(a.stdout, "%s: chain verified\n", view.RiskID)
		})
	}

	if err := a.manager().VerifyAll(ctx); err != nil {
		return err
	}
	return a.output(view, func() {
		fmt.Fprintln(a.stdout, "All chains verified")
	})
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("export", "export --format f [--output p] [--risk id] [--max n] [--no-headers] [--metadata]")
	format := fs.String("format", "json", "json, csv, pdf, xml, xlsx or sqlite")
	output := fs.String("output", "", "output file; relative paths go under the export directory")
	risks := fs.StringSlice("risk", nil, "limit to these risk ids")
	actions := fs.StringSlice("action", nil, "keep only entries produced by these actions")
	maxEntries := fs.Int("max", 0, "truncate to this many entries")
	noHeaders := fs.Bool("no-headers", false, "omit header rows and entry headings")
	metadata := fs.Bool("metadata", false, "include export metadata")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	f, err := port.ParseExportFormat(*format)
	if err != nil {
		return err
	}
	opts := port.ExportOptions{
		Format:          f,
		IncludeHeaders:  !*noHeaders,
		IncludeMetadata: *metadata,
		MaxEntries:      *maxEntries,
		OutputPath:      *output,
	}
	for _, id := range *risks {
		opts.RiskIDs = append(opts.RiskIDs, utils.NormalizeRiskID(id))
	}
	if len(*actions) > 0 {
		keep := make(map[workflow.Action]bool, len(*actions))
		for _, s := range *actions {
			action, err := workflow.ParseAction(s)
			if err != nil {
				return err
			}
			keep[action] = true
		}
		opts.Filter = func(e entity.HistoryEntry) bool { return keep[e.Action] }
	}

	result, err := a.manager().Export(ctx, a.actor, opts)
	if err != nil {
		return err
	}
	return a.output(result, func() {
		fmt.Fprintf(a.stdout, "Exported %d entries (%s, %d bytes) to %s\n",
			result.ExportedEntries, result.Format, result.FileSize, result.Path)
	})
}

func runBackup(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("backup", "backup")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	stats, err := a.manager().Backup(ctx, a.actor)
	if err != nil {
		return err
	}
	return a.output(stats, func() {
		fmt.Fprintf(a.stdout, "Backup %s: %d files, %d bytes in %dms\n",
			stats.BackupID, stats.FilesBackedUp, stats.BytesBackedUp, stats.DurationMs)
	})
}

func runBackups(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("backups", "backups")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	backups, err := a.manager().ListBackups(ctx, a.actor)
	if err != nil {
		return err
	}
	return a.output(backups, func() {
		if len(backups) == 0 {
			fmt.Fprintln(a.stdout, "No backups.")
			return
		}
		for _, b := range backups {
			fmt.Fprintf(a.stdout, "%s  %s  %d bytes\n", b.BackupID, b.Timestamp.UTC().Format(time.RFC3339), b.TotalSize)
		}
	})
}

func runRestore(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("restore", "restore <backup_id>")
	rest, err := a.parse(fs, args, 1)
	if err != nil {
		return err
	}

	if err := a.manager().Restore(ctx, a.actor, rest[0]); err != nil {
		return err
	}
	view := struct {
		BackupID string `json:"backup_id"`
		Restored bool   `json:"restored"`
	}{rest[0], true}
	return a.output(view, func() {
		fmt.Fprintf(a.stdout, "Restored %s\n", view.BackupID)
	})
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("serve", "serve")
	if _, err := a.parse(fs, args, 0); err != nil {
		return err
	}

	if err := a.container.StartWorkers(ctx); err != nil {
		return err
	}

	cfg := a.container.Config().Server
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, a.manager(), func(ctx context.Context) (bool, interface{}) {
		status := a.container.Health(ctx)
		return status.Overall, status.Components
	}, a.container.ServiceLogger())

	fmt.Fprintf(a.stdout, "Listening on http://%s (%d maintenance workers)\n",
		server.Address(), a.container.Workers().GetWorkerCount())
	return server.Start(ctx)
}
