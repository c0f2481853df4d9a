// Package docgen renders the analysis output into a prior-authorization
// form artifact.
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/signintech/gopdf"

	"github.com/priorauth/priorauth/internal/platform/analysis"
)

// Form is the input to a render: the analysis verdict plus the identifiers
// printed on the generated document.
type Form struct {
	PatientID     string
	EncounterID   string
	ProcedureCode string
	Result        *analysis.Result
}

// Renderer produces a document artifact from a completed analysis.
type Renderer interface {
	Render(ctx context.Context, form Form) ([]byte, error)
}

// Common TTF locations; the first one that loads wins.
var defaultFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/Library/Fonts/Arial Unicode.ttf",
}

// PDFRenderer renders the form as an A4 PDF.
type PDFRenderer struct {
	fontPaths []string
}

// PDFOption configures a PDFRenderer.
type PDFOption func(*PDFRenderer)

// WithFontPaths overrides the candidate TTF font paths.
func WithFontPaths(paths ...string) PDFOption {
	return func(r *PDFRenderer) {
		if len(paths) > 0 {
			r.fontPaths = paths
		}
	}
}

// NewPDFRenderer creates a PDFRenderer.
func NewPDFRenderer(opts ...PDFOption) *PDFRenderer {
	r := &PDFRenderer{fontPaths: defaultFontPaths}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *PDFRenderer) Render(_ context.Context, form Form) ([]byte, error) {
	if form.Result == nil {
		return nil, fmt.Errorf("nil analysis result")
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	loaded := false
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont("form", path); err == nil {
			loaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !loaded {
		return nil, fmt.Errorf("no usable TTF font found: %w", fontErr)
	}

	if err := pdf.SetFont("form", "", 18); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Prior Authorization Request")
	pdf.Br(28)

	if err := pdf.SetFont("form", "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04 MST")))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Patient: %s", form.PatientID))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Encounter: %s", form.EncounterID))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Procedure code: %s", form.ProcedureCode))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Recommendation: %s (confidence %d/100)",
		form.Result.Recommendation, form.Result.ConfidenceScore))
	pdf.Br(22)

	if err := pdf.SetFont("form", "", 13); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Criteria")
	pdf.Br(16)
	if err := pdf.SetFont("form", "", 10); err != nil {
		return nil, err
	}
	for _, criterion := range form.Result.Criteria {
		state := "unknown"
		if criterion.Met != nil {
			if *criterion.Met {
				state = "met"
			} else {
				state = "not met"
			}
		}
		line := fmt.Sprintf("- %s: %s", criterion.Label, state)
		if criterion.Reason != nil && *criterion.Reason != "" {
			line += " (" + *criterion.Reason + ")"
		}
		writeWrapped(&pdf, line)
	}
	pdf.Br(14)

	if form.Result.ClinicalSummary != "" {
		if err := pdf.SetFont("form", "", 13); err != nil {
			return nil, err
		}
		pdf.Cell(nil, "Clinical summary")
		pdf.Br(16)
		if err := pdf.SetFont("form", "", 10); err != nil {
			return nil, err
		}
		writeWrapped(&pdf, form.Result.ClinicalSummary)
	}

	for field, value := range form.Result.FieldMappings {
		writeWrapped(&pdf, fmt.Sprintf("%s: %s", field, value))
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeWrapped(pdf *gopdf.GoPdf, text string) {
	lines, err := pdf.SplitText(text, 500)
	if err != nil {
		lines = []string{text}
	}
	for _, line := range lines {
		pdf.Cell(nil, line)
		pdf.Br(12)
	}
}
