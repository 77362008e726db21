package pdf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

const mediaBox = "/MediaBox"

// Page is the drawing surface for one page of an output document. Field
// coordinates arrive with a bottom-left origin; Page converts them for gofpdf,
// which draws from the top-left.
type Page struct {
	pdf       *gofpdf.Fpdf
	translate func(string) string
	Number    int
	Width     float64
	Height    float64
}

// top converts a bottom-left y coordinate to gofpdf's top-left space.
func (p *Page) top(y float64) float64 {
	return p.Height - y
}

// source is an imported PDF whose pages can be stamped onto an output document.
type source struct {
	importer  *gofpdi.Importer
	stream    *io.ReadSeeker
	sizes     []gofpdf.SizeType
	templates map[int]int
}

// newOutput creates an empty point-based document.
func newOutput(opts Options) *gofpdf.Fpdf {
	out := gofpdf.New("P", "pt", "A4", "")
	out.SetCompression(opts.Compress)
	out.SetCreationDate(opts.now())
	out.SetCatalogSort(true)
	out.SetAutoPageBreak(false, 0)
	out.SetMargins(0, 0, 0)
	out.SetCellMargin(0)
	return out
}

// importSource reads the page tree of content into out. Documents merged into
// one output share an importer so template names stay unique. gofpdi panics on
// malformed input, so the panic is turned into an error here.
func importSource(out *gofpdf.Fpdf, importer *gofpdi.Importer, content []byte) (src *source, err error) {
	defer func() {
		if r := recover(); r != nil {
			src = nil
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	if !bytes.HasPrefix(bytes.TrimLeft(content, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, fmt.Errorf("failed to parse PDF: missing header")
	}

	var rs io.ReadSeeker = bytes.NewReader(content)
	src = &source{importer: importer, stream: &rs, templates: make(map[int]int)}

	src.templates[1] = src.importer.ImportPageFromStream(out, src.stream, 1, mediaBox)
	all := src.importer.GetPageSizes()
	if len(all) == 0 {
		return nil, fmt.Errorf("failed to parse PDF: no pages")
	}
	src.sizes = make([]gofpdf.SizeType, len(all))
	for n := 1; n <= len(all); n++ {
		box, ok := all[n][mediaBox]
		if !ok {
			return nil, fmt.Errorf("failed to parse PDF: page %d has no media box", n)
		}
		src.sizes[n-1] = gofpdf.SizeType{Wd: box["w"], Ht: box["h"]}
	}
	return src, out.Error()
}

func (s *source) pageCount() int {
	return len(s.sizes)
}

// stamp appends page n of the source to out and returns its drawing surface.
func (s *source) stamp(out *gofpdf.Fpdf, n int) (page *Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = fmt.Errorf("failed to import page %d: %v", n, r)
		}
	}()

	size := s.sizes[n-1]
	tpl, ok := s.templates[n]
	if !ok {
		tpl = s.importer.ImportPageFromStream(out, s.stream, n, mediaBox)
		s.templates[n] = tpl
	}
	// "P" keeps Wd and Ht as given, landscape sources included.
	out.AddPageFormat("P", size)
	s.importer.UseImportedTemplate(out, tpl, 0, 0, size.Wd, size.Ht)

	return &Page{
		pdf:       out,
		translate: out.UnicodeTranslatorFromDescriptor(""),
		Number:    n,
		Width:     size.Wd,
		Height:    size.Ht,
	}, out.Error()
}

// render serialises out, surfacing any error gofpdf accumulated while drawing.
func render(out *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := out.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}
