package pdf

import (
	"fmt"
	"time"

	"signflow/internal/domain/entity"
)

// CertificateRenderer lays out a completion certificate as a one-page PDF.
type CertificateRenderer interface {
	Render(cert *entity.CompletionCertificate) ([]byte, error)
}

type certificateRenderer struct {
	opts Options
}

func NewCertificateRenderer(opts Options) CertificateRenderer {
	return &certificateRenderer{opts: opts}
}

var certificateColumns = []struct {
	title string
	width float64
}{
	{"Name", 130},
	{"Email", 170},
	{"Role", 60},
	{"Status", 60},
	{"Signed at (UTC)", 115},
}

func (r *certificateRenderer) Render(cert *entity.CompletionCertificate) ([]byte, error) {
	out := newOutput(r.opts)
	out.SetMargins(40, 40, 40)
	out.SetTitle("Certificate of Completion", true)
	out.SetSubject(cert.RequestID, true)
	out.AddPage()
	tr := out.UnicodeTranslatorFromDescriptor("")

	out.SetFont("Helvetica", "B", 18)
	out.CellFormat(0, 28, "Certificate of Completion", "", 1, "L", false, 0, "")
	out.Ln(6)

	out.SetFont("Helvetica", "", 10)
	summary := [][2]string{
		{"Request", cert.RequestID},
		{"Title", cert.Title},
		{"Completed at", cert.CompletedAt.UTC().Format(time.RFC3339)},
		{"Document", cert.DocumentRef},
		{"Document SHA-256", cert.DocumentHash},
	}
	for _, row := range summary {
		out.SetFont("Helvetica", "B", 10)
		out.CellFormat(110, 16, row[0], "", 0, "L", false, 0, "")
		out.SetFont("Helvetica", "", 10)
		out.CellFormat(0, 16, tr(row[1]), "", 1, "L", false, 0, "")
	}
	out.Ln(14)

	out.SetFont("Helvetica", "B", 10)
	out.SetFillColor(235, 235, 235)
	for _, col := range certificateColumns {
		out.CellFormat(col.width, 18, col.title, "1", 0, "L", true, 0, "")
	}
	out.Ln(-1)

	out.SetFont("Helvetica", "", 9)
	for _, p := range cert.Participants {
		signedAt := "-"
		if p.SignedAt != nil {
			signedAt = p.SignedAt.UTC().Format("2006-01-02 15:04:05")
		}
		cells := []string{tr(p.Name), tr(p.Email), string(p.Role), string(p.Status), signedAt}
		for i, col := range certificateColumns {
			out.CellFormat(col.width, 16, cells[i], "1", 0, "L", false, 0, "")
		}
		out.Ln(-1)
	}

	out.Ln(14)
	out.SetFont("Helvetica", "I", 8)
	out.CellFormat(0, 12, fmt.Sprintf("%d participant(s). Generated %s.", len(cert.Participants), r.opts.now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")

	return render(out)
}
