package export

import (
	"context"
	"encoding/json"
	"io"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

type jsonWriter struct{}

type jsonDocument struct {
	Metadata Metadata              `json:"metadata"`
	Entries  []entity.HistoryEntry `json:"entries"`
}

func (jsonWriter) Write(_ context.Context, w io.Writer, entries []entity.HistoryEntry, meta Metadata, opts Options) error {
	if entries == nil {
		entries = []entity.HistoryEntry{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if opts.IncludeMetadata {
		return enc.Encode(jsonDocument{Metadata: meta, Entries: entries})
	}
	return enc.Encode(entries)
}
