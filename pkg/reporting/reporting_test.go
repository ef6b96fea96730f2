package reporting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChartPNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := solidPNG(800, 200, color.RGBA{R: 46, G: 204, B: 113, A: 255})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testEntries(t *testing.T, dir string, n int) []Entry {
	t.Helper()
	entries := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, Entry{
			Title:     fmt.Sprintf("web-%02d - CPU utilización", i),
			ImagePath: writeChartPNG(t, dir, fmt.Sprintf("zbx_g_%d.png", i)),
		})
	}
	return entries
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}

func TestRenderHTMLDocument(t *testing.T) {
	doc := &Document{
		Labels:      DefaultLabels,
		Period:      "01/03/2024 00:00 - 01/03/2024 10:00",
		GeneratedAt: fixedNow(),
		Charts: []Chart{
			{Index: 1, Title: "db-01 - Load", PNG: []byte("one")},
			{Index: 2, Title: "db-02 - <Load>", PNG: []byte("two")},
		},
	}
	out, err := RenderHTML(doc)
	require.NoError(t, err)
	html := string(out)

	assert.Contains(t, html, `lang="es"`)
	assert.Contains(t, html, "Generado el 01/03/2024 10:00:00")
	assert.Contains(t, html, `<a href="#g1">db-01 - Load</a>`)
	assert.Contains(t, html, `<h2 id="g2">db-02 - &lt;Load&gt;</h2>`)
	assert.Contains(t, html, "target-counter(attr(href), page)")
	assert.Contains(t, html, `style="page-break-inside: avoid;"`)
	assert.Contains(t, html, "data:image/png;base64,b25l")
	assert.NotContains(t, html, "ZgotmplZ")
	assert.Equal(t, 2, strings.Count(html, `class="chart"`))
}

func TestTableOfContentsLinksLaterAnchors(t *testing.T) {
	charts := make([]Chart, 0, 5)
	for i := 1; i <= 5; i++ {
		charts = append(charts, Chart{Index: i, Title: fmt.Sprintf("chart %d", i), PNG: []byte("png")})
	}
	out, err := RenderHTML(&Document{Labels: DefaultLabels, GeneratedAt: fixedNow(), Charts: charts})
	require.NoError(t, err)

	doc, err := parseDocument(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, doc.toc, 5)
	require.Len(t, doc.charts, 5)
	assert.Equal(t, []string{"#", "Gráfico", "Página"}, doc.tocHeaders)

	html := string(out)
	seen := map[string]bool{}
	for i, row := range doc.toc {
		assert.False(t, seen[row.anchor], "duplicate anchor %s", row.anchor)
		seen[row.anchor] = true
		assert.Equal(t, doc.charts[i].anchor, row.anchor)
		assert.Equal(t, fmt.Sprint(i+1), row.index)

		link := strings.Index(html, `href="#`+row.anchor+`"`)
		target := strings.Index(html, `id="`+row.anchor+`"`)
		assert.Greater(t, target, link)
	}
}

func TestFPDFRendererResolvesPageNumbers(t *testing.T) {
	dir := t.TempDir()
	entries := testEntries(t, dir, 12)
	out := filepath.Join(dir, "report.pdf")

	a := NewAssembler(&FPDFRenderer{uncompressed: true}, AssemblerOptions{Now: fixedNow, Location: time.UTC})
	require.NoError(t, a.Build(context.Background(), entries, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
	assert.GreaterOrEqual(t, len(data), MinOutputBytes)
	assert.NotContains(t, string(data), "{p:g")
	assert.NotContains(t, string(data), "{nb}")
	assert.Contains(t, string(data), "/Dest")
}

func TestFPDFRendererCompressedOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "report.pdf")

	a := NewAssembler(NewFPDFRenderer(), AssemblerOptions{Labels: DefaultLabels})
	require.NoError(t, a.Build(context.Background(), testEntries(t, dir, 1), out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Size(), int64(MinOutputBytes))
}

func TestFPDFRendererRejectsDocumentWithoutCharts(t *testing.T) {
	out, err := RenderHTML(&Document{Labels: DefaultLabels, GeneratedAt: fixedNow()})
	require.NoError(t, err)
	err = NewFPDFRenderer().Render(context.Background(), out, filepath.Join(t.TempDir(), "x.pdf"))
	require.Error(t, err)
}

func TestBuildPreconditions(t *testing.T) {
	dir := t.TempDir()
	tiny := filepath.Join(dir, "tiny.png")
	require.NoError(t, os.WriteFile(tiny, []byte("short"), 0o600))

	tests := []struct {
		name    string
		entries []Entry
	}{
		{"no entries", nil},
		{"missing image", []Entry{{Title: "a", ImagePath: filepath.Join(dir, "missing.png")}}},
		{"tiny image", []Entry{{Title: "a", ImagePath: tiny}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(NewFPDFRenderer(), AssemblerOptions{})
			err := a.Build(context.Background(), tt.entries, filepath.Join(dir, "out.pdf"))
			require.Error(t, err)
			assert.Equal(t, reporterrors.KindBuild, reporterrors.KindOf(err))
			assert.ErrorIs(t, err, reporterrors.ErrBuild)
		})
	}
}

type stubRenderer struct {
	size int
	err  error
}

func (s stubRenderer) Name() string { return "stub" }

func (s stubRenderer) Render(ctx context.Context, html []byte, outPath string) error {
	if err := os.WriteFile(outPath, bytes.Repeat([]byte("x"), s.size), 0o600); err != nil {
		return err
	}
	return s.err
}

func TestBuildPostconditions(t *testing.T) {
	dir := t.TempDir()
	entries := testEntries(t, dir, 1)

	t.Run("output too small", func(t *testing.T) {
		out := filepath.Join(dir, "small.pdf")
		err := NewAssembler(stubRenderer{size: 999}, AssemblerOptions{}).Build(context.Background(), entries, out)
		assert.Equal(t, reporterrors.KindBuild, reporterrors.KindOf(err))
		assert.NoFileExists(t, out)
	})

	t.Run("renderer failure", func(t *testing.T) {
		out := filepath.Join(dir, "failed.pdf")
		renderErr := errors.New("engine crashed")
		err := NewAssembler(stubRenderer{size: 5000, err: renderErr}, AssemblerOptions{}).Build(context.Background(), entries, out)
		assert.ErrorIs(t, err, renderErr)
		assert.Equal(t, reporterrors.KindBuild, reporterrors.KindOf(err))
		assert.NoFileExists(t, out)
	})

	t.Run("accepted", func(t *testing.T) {
		out := filepath.Join(dir, "ok.pdf")
		require.NoError(t, NewAssembler(stubRenderer{size: 1000}, AssemblerOptions{}).Build(context.Background(), entries, out))
		assert.FileExists(t, out)
	})
}

func TestBuildUsesConfiguredLogo(t *testing.T) {
	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.png")
	logoPNG := solidPNG(40, 20, color.RGBA{R: 231, G: 76, B: 60, A: 255})
	require.NoError(t, os.WriteFile(logo, logoPNG, 0o600))

	var captured []byte
	r := captureRenderer{html: &captured}
	a := NewAssembler(r, AssemblerOptions{OrgLogoPath: logo, ProductLogoPath: filepath.Join(dir, "absent.png")})
	require.NoError(t, a.Build(context.Background(), testEntries(t, dir, 1), filepath.Join(dir, "out.pdf")))

	doc, err := parseDocument(bytes.NewReader(captured))
	require.NoError(t, err)
	assert.Equal(t, logoPNG, doc.orgLogo)
	assert.Equal(t, defaultProductLogo, doc.productLogo)
}

type captureRenderer struct {
	html *[]byte
}

func (c captureRenderer) Name() string { return "capture" }

func (c captureRenderer) Render(ctx context.Context, html []byte, outPath string) error {
	*c.html = append([]byte(nil), html...)
	return os.WriteFile(outPath, bytes.Repeat([]byte("%"), MinOutputBytes), 0o600)
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("", RendererOptions{})
	require.NoError(t, err)
	assert.Equal(t, EngineFPDF, r.Name())

	r, err = NewRenderer(" WKHTMLTOPDF ", RendererOptions{WkhtmltopdfPath: "/opt/bin/wkhtmltopdf"})
	require.NoError(t, err)
	assert.Equal(t, EngineWkhtmltopdf, r.Name())
	assert.Equal(t, "/opt/bin/wkhtmltopdf", r.(*WkhtmltopdfRenderer).binary)

	_, err = NewRenderer("prince", RendererOptions{})
	require.Error(t, err)
}

func writeFakeWkhtmltopdf(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(dir, "wkhtmltopdf")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestWkhtmltopdfRenderer(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")
	argsFile := filepath.Join(dir, "args.txt")
	bin := writeFakeWkhtmltopdf(t, dir, `for last; do :; done
echo "$@" > "`+argsFile+`"
head -c 2048 /dev/zero > "$last"`)

	out := filepath.Join(dir, "report.pdf")
	r := NewWkhtmltopdfRenderer(bin, scratch)
	require.NoError(t, r.Render(context.Background(), []byte("<html></html>"), out))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(args), "--enable-local-file-access --quiet --margin-top 70 --margin-bottom 40 "))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(args)), out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())

	leftovers, err := filepath.Glob(filepath.Join(scratch, "zbx_report_*.html"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWkhtmltopdfRendererFailureIsBuildError(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeWkhtmltopdf(t, dir, `echo "cannot connect to X server" >&2
exit 3`)

	a := NewAssembler(NewWkhtmltopdfRenderer(bin, dir), AssemblerOptions{})
	err := a.Build(context.Background(), testEntries(t, dir, 1), filepath.Join(dir, "out.pdf"))
	require.Error(t, err)
	assert.Equal(t, reporterrors.KindBuild, reporterrors.KindOf(err))
	assert.Contains(t, err.Error(), "cannot connect to X server")
}
