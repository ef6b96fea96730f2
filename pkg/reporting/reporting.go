package reporting

import (
	"context"
	"fmt"
	"strings"
)

// Supported render engines.
const (
	EngineFPDF        = "fpdf"
	EngineWkhtmltopdf = "wkhtmltopdf"
)

// Entry is one chart in the report. ImagePath points at a PNG on disk.
type Entry struct {
	Title     string
	ImagePath string
}

// Labels are the user-visible strings printed in the document.
type Labels struct {
	Title       string
	Contents    string
	ChartColumn string
	PageColumn  string
	GeneratedOn string
	Credit      string
	Page        string
	Period      string
}

// DefaultLabels are used when no localized labels are supplied.
var DefaultLabels = Labels{
	Title:       "Reporte de gráficos Zabbix",
	Contents:    "Índice",
	ChartColumn: "Gráfico",
	PageColumn:  "Página",
	GeneratedOn: "Generado el",
	Credit:      "Generado por zbxreport",
	Page:        "Página",
	Period:      "Periodo",
}

// Renderer turns the report HTML into a PDF file at outPath.
type Renderer interface {
	Name() string
	Render(ctx context.Context, html []byte, outPath string) error
}

// RendererOptions configures NewRenderer.
type RendererOptions struct {
	WkhtmltopdfPath string
	TmpDir          string
}

// NewRenderer returns the renderer for engine. An empty engine selects fpdf.
func NewRenderer(engine string, opts RendererOptions) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineFPDF:
		return NewFPDFRenderer(), nil
	case EngineWkhtmltopdf:
		return NewWkhtmltopdfRenderer(opts.WkhtmltopdfPath, opts.TmpDir), nil
	default:
		return nil, fmt.Errorf("unknown PDF engine %q", engine)
	}
}
