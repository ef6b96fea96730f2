package reporting

import (
	"context"
	"fmt"
	"os"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rs/zerolog/log"
)

// Size limits checked around rendering.
const (
	MinImageBytes  = 100
	MinOutputBytes = 1000
)

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	Lang            string
	Labels          Labels
	Period          string
	OrgLogoPath     string
	ProductLogoPath string
	Location        *time.Location
	Now             func() time.Time
}

// Assembler builds the PDF document from fetched charts.
type Assembler struct {
	renderer Renderer
	opts     AssemblerOptions
}

// NewAssembler creates an assembler that renders with r.
func NewAssembler(r Renderer, opts AssemblerOptions) *Assembler {
	if opts.Labels == (Labels{}) {
		opts.Labels = DefaultLabels
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{renderer: r, opts: opts}
}

// Build writes a PDF with one section per entry to outPath. Any failure is a
// build error and leaves no file at outPath.
func (a *Assembler) Build(ctx context.Context, entries []Entry, outPath string) error {
	if len(entries) == 0 {
		return reporterrors.New(reporterrors.KindBuild, "assemble_report", "no entries")
	}

	charts := make([]Chart, 0, len(entries))
	for i, entry := range entries {
		data, err := os.ReadFile(entry.ImagePath)
		if err != nil {
			return reporterrors.WrapBuild("read_chart", err)
		}
		if len(data) < MinImageBytes {
			return reporterrors.New(reporterrors.KindBuild, "read_chart",
				fmt.Sprintf("%s has %d bytes", entry.ImagePath, len(data)))
		}
		charts = append(charts, Chart{Index: i + 1, Title: entry.Title, PNG: data})
	}

	doc := &Document{
		Lang:        a.opts.Lang,
		Labels:      a.opts.Labels,
		Period:      a.opts.Period,
		GeneratedAt: a.opts.Now().In(a.opts.Location),
		OrgLogo:     readLogo(a.opts.OrgLogoPath),
		ProductLogo: readLogo(a.opts.ProductLogoPath),
		Charts:      charts,
	}
	html, err := RenderHTML(doc)
	if err != nil {
		return reporterrors.WrapBuild("render_html", err)
	}

	if err := a.renderer.Render(ctx, html, outPath); err != nil {
		removePartial(outPath)
		return reporterrors.Wrap(reporterrors.KindBuild, "render_pdf", err).WithDetail(a.renderer.Name())
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return reporterrors.WrapBuild("stat_pdf", err)
	}
	if info.Size() < MinOutputBytes {
		removePartial(outPath)
		return reporterrors.New(reporterrors.KindBuild, "verify_pdf", fmt.Sprintf("output has %d bytes", info.Size()))
	}

	log.Debug().
		Str("engine", a.renderer.Name()).
		Int("charts", len(charts)).
		Int64("bytes", info.Size()).
		Msg("Report assembled")
	return nil
}

// readLogo returns the PNG at path, or nil to use the built-in logo.
func readLogo(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Logo unreadable, using default")
		return nil
	}
	return data
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove partial report")
	}
}
