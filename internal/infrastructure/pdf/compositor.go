package pdf

import (
	"context"
	"errors"
	"strings"

	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
	"go.uber.org/multierr"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
)

// Composition is the output of stamping one signer's fields onto a source document.
type Composition struct {
	Content []byte
	// Marked counts the fields that produced visible output.
	Marked int
	// Warnings holds per-field render failures that degraded to a placeholder.
	Warnings error
}

// Compositor stamps a signer's field values onto a copy of the source document.
// It returns new bytes and never mutates signer or request state. When nothing
// lands on a page the source bytes are returned unchanged. Otherwise every page
// content stream is a function of the source and the drawn fields alone; the
// numbering of imported objects in the file may differ between runs.
type Compositor interface {
	Compose(ctx context.Context, source []byte, fields []entity.SignatureField, values map[string]string) (*Composition, error)
}

type compositor struct {
	renderer FieldRenderer
	opts     Options
}

func NewCompositor(renderer FieldRenderer, opts Options) Compositor {
	return &compositor{renderer: renderer, opts: opts}
}

// plan selects the fields that will draw something, in render order. A required
// field without a value fails the whole composition before any output exists.
func plan(fields []entity.SignatureField, values map[string]string) ([]entity.SignatureField, error) {
	ordered := make([]entity.SignatureField, len(fields))
	copy(ordered, fields)
	entity.SortFields(ordered)

	var out []entity.SignatureField
	for _, f := range ordered {
		value := strings.TrimSpace(values[f.ID])
		if value == "" {
			if f.Required {
				return nil, &apperror.MissingRequiredFieldError{FieldID: f.ID, Label: f.Label}
			}
			continue
		}
		if _, ok := f.Kind.(entity.CheckboxKind); ok && !entity.IsTruthy(value) {
			continue
		}
		f.Value = value
		out = append(out, f)
	}
	return out, nil
}

func (c *compositor) Compose(ctx context.Context, source []byte, fields []entity.SignatureField, values map[string]string) (*Composition, error) {
	drawable, err := plan(fields, values)
	if err != nil {
		return nil, err
	}
	if len(drawable) == 0 {
		// Nothing to draw: the copy is the source itself.
		return &Composition{Content: source}, nil
	}

	out := newOutput(c.opts)
	src, err := importSource(out, gofpdi.NewImporter(), source)
	if err != nil {
		return nil, &apperror.RenderFailure{Err: err}
	}

	byPage := make(map[int][]entity.SignatureField)
	var warnings error
	for _, f := range drawable {
		if f.Page < 1 || f.Page > src.pageCount() {
			warnings = multierr.Append(warnings, &apperror.RenderFailure{
				FieldID: f.ID,
				Err:     errors.New("page out of range"),
			})
			continue
		}
		byPage[f.Page] = append(byPage[f.Page], f)
	}
	if len(byPage) == 0 {
		return &Composition{Content: source, Warnings: warnings}, nil
	}

	marked := 0
	for n := 1; n <= src.pageCount(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := src.stamp(out, n)
		if err != nil {
			return nil, &apperror.RenderFailure{Err: err}
		}
		for _, f := range byPage[n] {
			if err := c.renderer.Render(page, f, f.Value); err != nil {
				warnings = multierr.Append(warnings, err)
				var failure *apperror.RenderFailure
				if !errors.As(err, &failure) {
					return nil, err
				}
			}
			marked++
		}
	}

	content, err := render(out)
	if err != nil {
		return nil, &apperror.RenderFailure{Err: err}
	}
	return &Composition{Content: content, Marked: marked, Warnings: warnings}, nil
}
