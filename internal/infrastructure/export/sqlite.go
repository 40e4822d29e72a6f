package export

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/pkg/database"
)

//go:embed schema/*.sql
var schemaFiles embed.FS

// sqliteWriter produces a standalone SQLite database with one row per entry,
// for auditors who query the trail with SQL. Column names are always present,
// so IncludeHeaders has no effect.
type sqliteWriter struct{}

func (sqliteWriter) Write(ctx context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	dir, err := os.MkdirTemp("", "riskflow-export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "audit-trail.sqlite")
	if err := buildSQLite(ctx, path, entries, meta, opts); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

func buildSQLite(ctx context.Context, path string, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	cfg := database.DefaultConfig(path)
	cfg.MaxOpenConns = 1
	db, err := database.New(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := fs.Sub(schemaFiles, "schema")
	if err != nil {
		return err
	}
	if err := database.NewMigrator(db, zap.NewNop()).RunMigrations(ctx, schema); err != nil {
		return err
	}

	err = db.WithTransaction(ctx, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO audit_entries (%s) VALUES (%s)",
			strings.Join(Columns, ", "), placeholders))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			r := Flatten(e)
			_, err := stmt.ExecContext(ctx,
				r.RiskID,
				r.SequenceNo,
				r.Cycle,
				r.Timestamp,
				r.UserID,
				r.UserName,
				r.Action,
				r.WorkflowState,
				r.Decision,
				r.AuthorityLevel,
				r.SignatureText,
				strings.Join(r.Conditions, "; "),
				r.Rationale,
				r.Comments,
				strings.Join(r.NextActions, "; "),
				r.PrevChecksum,
				r.Checksum,
			)
			if err != nil {
				return fmt.Errorf("insert %s#%d: %w", r.RiskID, r.SequenceNo, err)
			}
		}

		if !opts.IncludeMetadata {
			return nil
		}
		pairs := [][2]string{
			{"export_id", meta.ExportID},
			{"generated_at", meta.GeneratedAt.UTC().Format(time.RFC3339)},
			{"risk_ids", strings.Join(meta.RiskIDs, ", ")},
			{"entry_count", strconv.Itoa(meta.EntryCount)},
			{"truncated", strconv.FormatBool(meta.Truncated)},
		}
		for _, p := range pairs {
			if _, err := tx.ExecContext(ctx, "INSERT INTO export_metadata (key, value) VALUES (?, ?)", p[0], p[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// leave a single self-contained file behind
	_, err = db.ExecContext(ctx, "PRAGMA journal_mode=DELETE")
	return err
}
