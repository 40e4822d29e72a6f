// Command riskflow records risk reviews and approvals in a tamper-evident audit trail.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/subosito/gotenv"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/config"
	"github.com/qmsforge/riskflow/internal/container"
	"github.com/qmsforge/riskflow/pkg/utils"
)

// Environment variables that supply the actor when no flag does
const (
	envUserID      = config.EnvPrefix + "_USER_ID"
	envUserName    = config.EnvPrefix + "_USER_NAME"
	envRole        = config.EnvPrefix + "_ROLE"
	envPermissions = config.EnvPrefix + "_PERMISSIONS"
)

// command is one CLI sub-command
type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"submit":   {"submit <risk_id> [--comment text] [--new-cycle]", "submit a risk for review", runSubmit},
	"approve":  {"approve <risk_id> --signature text [--reject] [--conditions c1,c2] [--rationale text]", "sign a review decision", runApprove},
	"workflow": {"workflow <risk_id> [--require-known]", "show a risk's state and history", runWorkflow},
	"pending":  {"pending [--role r]", "list risks awaiting review", runPending},
	"report":   {"report [--save]", "print or save the workflow report", runReport},
	"verify":   {"verify [risk_id]", "verify audit checksum chains", runVerify},
	"export":   {"export --format f [--output p] [--risk id] [--max n] [--no-headers] [--metadata]", "export the audit trail", runExport},
	"backup":   {"backup", "back up the audit trail", runBackup},
	"backups":  {"backups", "list backups", runBackups},
	"restore":  {"restore <backup_id>", "restore the audit trail from a backup", runRestore},
	"serve":    {"serve", "serve the HTTP API", runServe},
}

// app is what every command runs against
type app struct {
	container *container.Container
	actor     port.Actor
	json      bool
	stdout    io.Writer
	stderr    io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("riskflow", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	configPath := flags.StringP("config", "c", "configs/config.yaml", "configuration file")
	envFile := flags.String("env-file", ".env", "environment file loaded before configuration")
	userID := flags.String("user-id", "", "acting user id (env "+envUserID+")")
	userName := flags.String("user-name", "", "acting user name (env "+envUserName+")")
	role := flags.String("role", "", "acting user role (env "+envRole+")")
	permissions := flags.String("permissions", "", "comma separated extra permissions (env "+envPermissions+")")
	jsonOut := flags.Bool("json", false, "print results as JSON")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		printUsage(stderr, flags)
		return 2
	}

	name := flags.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n", name)
		printUsage(stderr, flags)
		return 2
	}

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(stderr, "Error: failed to load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize logger: %v\n", err)
		return 1
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer c.Close()

	a := &app{
		container: c,
		actor: port.Actor{
			ID:          firstNonEmpty(*userID, os.Getenv(envUserID)),
			Name:        firstNonEmpty(*userName, os.Getenv(envUserName)),
			Role:        firstNonEmpty(*role, os.Getenv(envRole)),
			Permissions: utils.SplitList(firstNonEmpty(*permissions, os.Getenv(envPermissions))),
		},
		json:   *jsonOut,
		stdout: stdout,
		stderr: stderr,
	}

	if err := cmd.run(ctx, a, flags.Args()[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var usage *usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// loadEnvFile applies a .env file without overriding variables already set
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return gotenv.Load(path)
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: riskflow [global flags] <command> [flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n             riskflow %s\n", name, commands[name].summary, commands[name].usage)
	}
	fmt.Fprintf(w, "\nGlobal flags:\n%s", flags.FlagUsages())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
