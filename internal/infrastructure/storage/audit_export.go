package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/domain/entity"
	"github.com/qmsforge/riskflow/internal/domain/workflow"
	"github.com/qmsforge/riskflow/internal/infrastructure/export"
	"go.uber.org/zap"
)

// Export serializes the selected partitions. Every partition is verified
// first; a broken chain aborts the export before anything is written.
func (s *FileAuditStore) Export(ctx context.Context, opts port.ExportOptions) (*port.ExportResult, error) {
	sink := exportSink{files: s.files, dir: s.layout.ExportDir, now: s.now, logger: s.logger}
	return sink.export(ctx, opts, s.collectForExport)
}

// collectFunc gathers the verified, filtered entries of an export along with
// the risk ids it covered and whether MaxEntries cut it short
type collectFunc func(ctx context.Context, opts port.ExportOptions) ([]entity.HistoryEntry, []string, bool, error)

// exportSink renders exports and stores them under the export directory
type exportSink struct {
	files  port.FileStorage
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

func (k exportSink) export(ctx context.Context, opts port.ExportOptions, collect collectFunc) (*port.ExportResult, error) {
	renderOpts := export.Options{
		IncludeHeaders:  opts.IncludeHeaders,
		IncludeMetadata: opts.IncludeMetadata,
	}
	if err := export.Validate(opts.Format, renderOpts); err != nil {
		return nil, err
	}

	entries, ids, truncated, err := collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	generatedAt := k.now().UTC()
	exportID := uuid.New().String()
	meta := export.Metadata{
		ExportID:    exportID,
		GeneratedAt: generatedAt,
		RiskIDs:     ids,
		EntryCount:  len(entries),
		Truncated:   truncated,
	}

	var buf bytes.Buffer
	if err := export.Write(ctx, &buf, opts.Format, entries, meta, renderOpts); err != nil {
		return nil, err
	}

	path, err := k.write(ctx, opts, exportID, generatedAt, buf.Bytes())
	if err != nil {
		return nil, err
	}

	k.logger.Info("Audit trail exported",
		zap.String("export_id", exportID),
		zap.String("format", string(opts.Format)),
		zap.Int("entries", len(entries)),
		zap.String("path", path))

	return &port.ExportResult{
		ExportID:        exportID,
		ExportedEntries: len(entries),
		FileSize:        int64(buf.Len()),
		Format:          opts.Format,
		Path:            path,
	}, nil
}

// exportRiskIDs returns the requested ids, or all when none were requested, sorted
func exportRiskIDs(opts port.ExportOptions, all func() ([]string, error)) ([]string, error) {
	ids := append([]string(nil), opts.RiskIDs...)
	if len(ids) == 0 {
		var err error
		if ids, err = all(); err != nil {
			return nil, err
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !entity.IsValidRiskID(id) {
			return nil, &workflow.ValidationError{Field: "risk_id"}
		}
	}
	return ids, nil
}

// selectEntries applies the export filter and entry limit
func selectEntries(history []entity.HistoryEntry, opts port.ExportOptions) ([]entity.HistoryEntry, bool) {
	var entries []entity.HistoryEntry
	for _, e := range history {
		if opts.Filter != nil && !opts.Filter(e) {
			continue
		}
		entries = append(entries, e)
	}
	if opts.MaxEntries > 0 && len(entries) > opts.MaxEntries {
		return entries[:opts.MaxEntries], true
	}
	return entries, false
}

func (s *FileAuditStore) collectForExport(ctx context.Context, opts port.ExportOptions) ([]entity.HistoryEntry, []string, bool, error) {
	leave, err := s.enterShared(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	defer leave()

	ids, err := exportRiskIDs(opts, func() ([]string, error) { return s.riskIDs(ctx) })
	if err != nil {
		return nil, nil, false, err
	}

	var all []entity.HistoryEntry
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, nil, false, err
		}
		raw, err := s.readLocked(ctx, id)
		if err != nil {
			return nil, nil, false, err
		}
		history, err := verifyPartition(id, raw)
		if err != nil {
			return nil, nil, false, err
		}
		all = append(all, history...)
	}

	entries, truncated := selectEntries(all, opts)
	return entries, ids, truncated, nil
}

// write saves the rendered export. A relative OutputPath is placed in the
// export directory; an absolute one is written where it points.
func (k exportSink) write(ctx context.Context, opts port.ExportOptions, exportID string, at time.Time, content []byte) (string, error) {
	if opts.OutputPath != "" && filepath.IsAbs(opts.OutputPath) {
		target := NewLocalFileStorage(filepath.Dir(opts.OutputPath), k.logger)
		if err := target.Save(ctx, filepath.Base(opts.OutputPath), content); err != nil {
			return "", err
		}
		return opts.OutputPath, nil
	}

	name := opts.OutputPath
	if name == "" {
		name = fmt.Sprintf("audit-trail-%s-%s.%s", at.Format("20060102T150405Z"), exportID[:8], opts.Format.Extension())
	}
	rel := filepath.Join(k.dir, name)
	if err := k.files.Save(ctx, rel, content); err != nil {
		return "", err
	}
	return k.files.GetFullPath(rel), nil
}

// Verify interface compliance
var _ port.AuditExporter = (*FileAuditStore)(nil)
