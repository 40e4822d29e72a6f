// Package export renders audit trail entries in the supported file formats.
// Every format carries the same columns; only the layout differs.
package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/application/port"
	"github.com/qmsforge/riskflow/internal/domain/entity"
)

// Metadata describes an export run
type Metadata struct {
	ExportID    string    `json:"export_id" xml:"exportId,attr"`
	GeneratedAt time.Time `json:"generated_at" xml:"generatedAt,attr"`
	RiskIDs     []string  `json:"risk_ids" xml:"riskId"`
	EntryCount  int       `json:"entry_count" xml:"entryCount,attr"`
	Truncated   bool      `json:"truncated" xml:"truncated,attr"`
}

// Options controls optional parts of the rendered document
type Options struct {
	IncludeHeaders  bool
	IncludeMetadata bool
}

// Writer renders entries in one format
type Writer interface {
	Write(ctx context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error
}

var writers = map[port.ExportFormat]Writer{
	port.ExportFormatJSON:   jsonWriter{},
	port.ExportFormatCSV:    csvWriter{},
	port.ExportFormatXML:    xmlWriter{},
	port.ExportFormatPDF:    pdfWriter{},
	port.ExportFormatXLSX:   xlsxWriter{},
	port.ExportFormatSQLite: sqliteWriter{},
}

// Validate rejects unknown formats and option combinations a format cannot express
func Validate(format port.ExportFormat, opts Options) error {
	if _, ok := writers[format]; !ok {
		return fmt.Errorf("%w: %q", port.ErrUnsupportedFormat, format)
	}
	if format == port.ExportFormatCSV && opts.IncludeMetadata {
		return fmt.Errorf("%w: csv cannot carry export metadata", port.ErrUnsupportedFormat)
	}
	return nil
}

// Write renders entries to w in the given format
func Write(ctx context.Context, w io.Writer, format port.ExportFormat, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	if err := Validate(format, opts); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writers[format].Write(ctx, w, entries, meta, opts); err != nil {
		return fmt.Errorf("render %s export: %w", format, err)
	}
	return nil
}

// Columns is the flat column layout shared by the tabular formats
var Columns = []string{
	"risk_id",
	"sequence_no",
	"cycle",
	"timestamp",
	"user_id",
	"user_name",
	"action",
	"workflow_state",
	"decision",
	"authority_level",
	"signature_text",
	"conditions",
	"rationale",
	"comments",
	"next_actions",
	"prev_checksum",
	"checksum",
}

// Row is the flattened view of one entry
type Row struct {
	RiskID         string   `xml:"riskId,attr"`
	SequenceNo     int64    `xml:"sequenceNo,attr"`
	Cycle          int      `xml:"cycle,attr"`
	Timestamp      string   `xml:"timestamp"`
	UserID         string   `xml:"user>id"`
	UserName       string   `xml:"user>name"`
	Action         string   `xml:"action"`
	WorkflowState  string   `xml:"workflowState"`
	Decision       string   `xml:"signature>decision,omitempty"`
	AuthorityLevel string   `xml:"signature>authorityLevel,omitempty"`
	SignatureText  string   `xml:"signature>text,omitempty"`
	Conditions     []string `xml:"signature>conditions>condition,omitempty"`
	Rationale      string   `xml:"signature>rationale,omitempty"`
	Comments       string   `xml:"comments,omitempty"`
	NextActions    []string `xml:"nextActions>action,omitempty"`
	PrevChecksum   string   `xml:"prevChecksum"`
	Checksum       string   `xml:"checksum"`
}

// Flatten converts an entry into a Row
func Flatten(e entity.HistoryEntry) Row {
	row := Row{
		RiskID:        e.RiskID,
		SequenceNo:    e.SequenceNo,
		Cycle:         e.Cycle,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:        e.UserID,
		UserName:      e.UserName,
		Action:        string(e.Action),
		WorkflowState: string(e.WorkflowState),
		Comments:      e.Comments,
		NextActions:   e.NextActions,
		PrevChecksum:  e.PrevChecksum,
		Checksum:      e.Checksum,
	}
	if sig := e.Signature; sig != nil {
		row.Decision = string(sig.Decision)
		row.AuthorityLevel = sig.AuthorityLevel
		row.SignatureText = sig.SignatureText
		row.Conditions = sig.Conditions
		row.Rationale = sig.Rationale
	}
	return row
}

// Strings returns the row values in Columns order
func (r Row) Strings() []string {
	return []string{
		r.RiskID,
		strconv.FormatInt(r.SequenceNo, 10),
		strconv.Itoa(r.Cycle),
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
	}
}
