package export

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

const (
	pdfTitle = "Risk Approval Audit Trail"
	pdfFont  = "DejaVu"
)

// DejaVu Sans Condensed, embedded so names and comments outside cp1252 survive
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	dejaVuRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	dejaVuBold []byte
)

type pdfWriter struct{}

func (pdfWriter) Write(_ context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(pdfTitle, true)
	pdf.SetCreator("riskflow", true)
	if !meta.GeneratedAt.IsZero() {
		pdf.SetCreationDate(meta.GeneratedAt)
	}
	pdf.AddUTF8FontFromBytes(pdfFont, "", dejaVuRegular)
	pdf.AddUTF8FontFromBytes(pdfFont, "B", dejaVuBold)

	pdf.AddPage()
	pdf.SetFont(pdfFont, "B", 14)
	pdf.CellFormat(0, 10, pdfTitle, "", 1, "L", false, 0, "")

	if opts.IncludeMetadata {
		pdf.SetFont(pdfFont, "", 9)
		pdf.CellFormat(0, 5, "Export ID: "+meta.ExportID, "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, "Generated: "+meta.GeneratedAt.UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, "Risks: "+strings.Join(meta.RiskIDs, ", "), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Entries: %d", meta.EntryCount), "", 1, "L", false, 0, "")
		pdf.Ln(3)
	}

	for _, e := range entries {
		r := Flatten(e)
		if opts.IncludeHeaders {
			pdf.SetFont(pdfFont, "B", 10)
			heading := fmt.Sprintf("%s #%d (cycle %d)  %s -> %s", r.RiskID, r.SequenceNo, r.Cycle, r.Action, r.WorkflowState)
			pdf.CellFormat(0, 6, heading, "B", 1, "L", false, 0, "")
		}
		pdf.SetFont(pdfFont, "", 9)
		values := r.Strings()
		for i, col := range Columns {
			value := values[i]
			if value == "" {
				continue
			}
			pdf.MultiCell(0, 4.5, col+": "+value, "", "L", false)
		}
		pdf.Ln(3)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
