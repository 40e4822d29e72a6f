package port

import (
	"fmt"
	"strings"
	"time"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

// ExportFormat names an audit trail serialization
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXML  ExportFormat = "xml"
	ExportFormatXLSX ExportFormat = "xlsx"
	// ExportFormatSQLite is a standalone database file for SQL queries
	ExportFormatSQLite ExportFormat = "sqlite"
)

// ParseExportFormat parses a format name case-insensitively
func ParseExportFormat(s string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatPDF, ExportFormatXML, ExportFormatXLSX, ExportFormatSQLite:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Extension returns the file extension for the format, without a dot
func (f ExportFormat) Extension() string {
	return string(f)
}

// ExportOptions controls what is exported and how
type ExportOptions struct {
	Format ExportFormat
	// RiskIDs limits the export to these partitions; empty means all
	RiskIDs []string
	// Filter keeps only entries for which it returns true
	Filter          func(entity.HistoryEntry) bool
	IncludeHeaders  bool
	IncludeMetadata bool
	// MaxEntries truncates the export; zero or negative means unlimited
	MaxEntries int
	// OutputPath overrides the generated file location under the export directory
	OutputPath string
}

// ExportResult describes a completed export
type ExportResult struct {
	ExportID        string       `json:"export_id"`
	ExportedEntries int          `json:"exported_entries"`
	FileSize        int64        `json:"file_size"`
	Format          ExportFormat `json:"export_format"`
	Path            string       `json:"path"`
}

// BackupStats describes a completed backup
type BackupStats struct {
	BackupID      string `json:"backup_id"`
	FilesBackedUp int    `json:"files_backed_up"`
	BytesBackedUp int64  `json:"bytes_backed_up"`
	DurationMs    int64  `json:"duration_ms"`
}

// BackupInfo is the listing view of a backup manifest
type BackupInfo struct {
	BackupID  string    `json:"backup_id"`
	Timestamp time.Time `json:"timestamp"`
	TotalSize int64     `json:"total_size"`
}
