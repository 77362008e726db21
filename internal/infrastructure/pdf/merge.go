package pdf

import (
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

// Merger concatenates documents page by page in the order given.
type Merger interface {
	Merge(ctx context.Context, documents [][]byte) ([]byte, error)
}

type merger struct {
	opts Options
}

func NewMerger(opts Options) Merger {
	return &merger{opts: opts}
}

func (m *merger) Merge(ctx context.Context, documents [][]byte) ([]byte, error) {
	switch len(documents) {
	case 0:
		return nil, fmt.Errorf("nothing to merge")
	case 1:
		return documents[0], nil
	}

	out := newOutput(m.opts)
	importer := gofpdi.NewImporter()
	for i, doc := range documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := importSource(out, importer, doc)
		if err != nil {
			return nil, fmt.Errorf("failed to import document %d: %w", i+1, err)
		}
		for n := 1; n <= src.pageCount(); n++ {
			if _, err := src.stamp(out, n); err != nil {
				return nil, fmt.Errorf("failed to merge document %d: %w", i+1, err)
			}
		}
	}
	return render(out)
}
