package export

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

type xmlWriter struct{}

type xmlDocument struct {
	XMLName  xml.Name  `xml:"auditTrail"`
	Metadata *Metadata `xml:"metadata,omitempty"`
	Entries  []Row     `xml:"entry"`
}

func (xmlWriter) Write(_ context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	doc := xmlDocument{Entries: make([]Row, 0, len(entries))}
	if opts.IncludeMetadata {
		doc.Metadata = &meta
	}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, Flatten(e))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
