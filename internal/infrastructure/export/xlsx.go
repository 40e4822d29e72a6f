package export

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

const (
	xlsxEntriesSheet  = "Audit Trail"
	xlsxMetadataSheet = "Export Metadata"
)

type xlsxWriter struct{}

func (xlsxWriter) Write(_ context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxEntriesSheet); err != nil {
		return err
	}

	row := 1
	if opts.IncludeHeaders {
		if err := setRow(f, xlsxEntriesSheet, row, Columns); err != nil {
			return err
		}
		row++
	}
	for _, e := range entries {
		if err := setRow(f, xlsxEntriesSheet, row, Flatten(e).Strings()); err != nil {
			return err
		}
		row++
	}
	if err := f.SetColWidth(xlsxEntriesSheet, "A", "Q", 20); err != nil {
		return err
	}

	if opts.IncludeMetadata {
		if _, err := f.NewSheet(xlsxMetadataSheet); err != nil {
			return err
		}
		pairs := [][]string{
			{"export_id", meta.ExportID},
			{"generated_at", meta.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00")},
			{"risk_ids", strings.Join(meta.RiskIDs, ", ")},
			{"entry_count", strconv.Itoa(meta.EntryCount)},
			{"truncated", strconv.FormatBool(meta.Truncated)},
		}
		for i, pair := range pairs {
			if err := setRow(f, xlsxMetadataSheet, i+1, pair); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheet, cell, &cells)
}
