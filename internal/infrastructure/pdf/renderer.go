package pdf

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"signflow/internal/domain/apperror"
	"signflow/internal/domain/entity"
)

// PlaceholderText marks a signature that could not be decoded.
const PlaceholderText = "[signature unavailable]"

// checkGlyph is the ZapfDingbats check mark.
const checkGlyph = "4"

// inputDateLayouts are accepted for date field values before reformatting.
var inputDateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}

// FieldRenderer draws one field value onto one page. It knows nothing about
// signers or requests.
type FieldRenderer interface {
	// Render draws value into field's box. A *apperror.RenderFailure means a
	// visible placeholder was drawn instead of the value.
	Render(page *Page, field entity.SignatureField, value string) error
}

type fieldRenderer struct {
	opts Options
}

func NewFieldRenderer(opts Options) FieldRenderer {
	return &fieldRenderer{opts: opts}
}

func (r *fieldRenderer) Render(page *Page, field entity.SignatureField, value string) error {
	switch kind := field.Kind.(type) {
	case entity.TextKind:
		r.drawText(page, field, value, r.opts.fontSize(kind.FontSize))
	case entity.DateKind:
		r.drawText(page, field, r.formatDate(value, kind.Layout), r.opts.fontSize(kind.FontSize))
	case entity.CheckboxKind:
		if entity.IsTruthy(value) {
			r.drawCheck(page, field)
		}
	case entity.SignatureKind:
		return r.drawSignature(page, field, value)
	default:
		return &apperror.RenderFailure{FieldID: field.ID, Err: fmt.Errorf("unsupported field kind %T", field.Kind)}
	}
	return nil
}

// drawText starts at (x+inset, y+baseline_offset) and wraps downwards in
// fontSize+lineGap steps. Lines that would fall below the page origin are dropped.
func (r *fieldRenderer) drawText(page *Page, field entity.SignatureField, text string, size float64) {
	pdf := page.pdf
	pdf.SetFont("Helvetica", "", size)
	pdf.SetTextColor(0, 0, 0)

	maxWidth := field.Width - r.opts.Inset
	if maxWidth <= 0 {
		maxWidth = field.Width
	}

	x := field.X + r.opts.Inset
	baseline := field.Y + r.opts.BaselineOffset
	step := size + r.opts.LineGap

	for i, line := range pdf.SplitLines([]byte(page.translate(text)), maxWidth) {
		y := baseline - float64(i)*step
		if y < 0 {
			break
		}
		pdf.Text(x, page.top(y), string(line))
	}
}

func (r *fieldRenderer) formatDate(value, layout string) string {
	if layout == "" {
		layout = r.opts.DateLayout
	}
	value = strings.TrimSpace(value)
	for _, in := range inputDateLayouts {
		if t, err := time.Parse(in, value); err == nil {
			return t.Format(layout)
		}
	}
	return value
}

func (r *fieldRenderer) drawCheck(page *Page, field entity.SignatureField) {
	pdf := page.pdf
	size := math.Min(field.Width, field.Height) * 0.8
	pdf.SetFont("ZapfDingbats", "", size)
	pdf.SetTextColor(0, 0, 0)

	w := pdf.GetStringWidth(checkGlyph)
	x := field.X + (field.Width-w)/2
	// The glyph body is roughly 0.7em tall; centre that on the box.
	baseline := field.Y + (field.Height-size*0.7)/2
	pdf.Text(x, page.top(baseline), checkGlyph)
}

func (r *fieldRenderer) drawSignature(page *Page, field entity.SignatureField, payload string) error {
	img, err := decodeSignature(payload)
	if err != nil {
		r.drawPlaceholder(page, field)
		return &apperror.RenderFailure{FieldID: field.ID, Err: err}
	}

	pdf := page.pdf
	name := fmt.Sprintf("signature-%s-p%d", field.ID, page.Number)
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.png))

	dx, dy, w, h := fitBox(img.width, img.height, field.Width, field.Height)
	pdf.ImageOptions(name, field.X+dx, page.top(field.Y+dy+h), w, h, false, opts, 0, "")
	return nil
}

func (r *fieldRenderer) drawPlaceholder(page *Page, field entity.SignatureField) {
	pdf := page.pdf
	pdf.SetDrawColor(200, 0, 0)
	pdf.SetLineWidth(0.75)
	pdf.Rect(field.X, page.top(field.Y+field.Height), field.Width, field.Height, "D")

	size := r.opts.fontSize(0)
	if field.Height > 0 && size > field.Height*0.6 {
		size = math.Max(field.Height*0.6, 4)
	}
	pdf.SetFont("Helvetica", "", size)
	pdf.SetTextColor(200, 0, 0)
	pdf.Text(field.X+r.opts.Inset, page.top(field.Y+(field.Height-size)/2+size*0.2), PlaceholderText)

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetTextColor(0, 0, 0)
}
