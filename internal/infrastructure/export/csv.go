package export

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/qmsforge/riskflow/internal/domain/entity"
)

type csvWriter struct{}

func (csvWriter) Write(_ context.Context, w io.Writer, entries []entity.HistoryEntry, _ Metadata, opts Options) error {
	cw := csv.NewWriter(w)
	if opts.IncludeHeaders {
		if err := cw.Write(Columns); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := cw.Write(Flatten(e).Strings()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
