package reporting

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Color scheme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220} // Rules
)

// Page geometry in mm.
const (
	marginSide   = 15.0
	marginTop    = 42.0
	marginBottom = 32.0
	headerLogoH  = 20.0
	footerLogoH  = 8.0
	chartTitleH  = 8.0
	chartGap     = 8.0
)

// FPDFRenderer lays out the report document in-process.
type FPDFRenderer struct {
	uncompressed bool
}

// NewFPDFRenderer creates the default renderer.
func NewFPDFRenderer() *FPDFRenderer {
	return &FPDFRenderer{}
}

// Name implements Renderer.
func (r *FPDFRenderer) Name() string { return EngineFPDF }

// Render implements Renderer.
func (r *FPDFRenderer) Render(ctx context.Context, htmlDoc []byte, outPath string) error {
	doc, err := parseDocument(bytes.NewReader(htmlDoc))
	if err != nil {
		return err
	}
	if len(doc.charts) == 0 {
		return errors.New("document has no charts")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginSide, marginTop, marginSide)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.AliasNbPages("")
	pdf.SetCompression(!r.uncompressed)
	pdf.SetTitle(doc.title, true)
	pdf.SetCreator("zbxreport", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pngOpts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	if len(doc.orgLogo) > 0 {
		pdf.RegisterImageOptionsReader("org-logo", pngOpts, bytes.NewReader(doc.orgLogo))
	}
	if len(doc.productLogo) > 0 {
		pdf.RegisterImageOptionsReader("product-logo", pngOpts, bytes.NewReader(doc.productLogo))
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("register logos: %w", err)
	}

	pdf.SetHeaderFunc(func() { r.writeHeader(pdf, doc, pngOpts) })
	pdf.SetFooterFunc(func() { r.writeFooter(pdf, doc, tr, pngOpts) })

	pdf.AddPage()
	links := r.writeContents(pdf, doc, tr)

	for _, chart := range doc.charts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.writeChart(pdf, chart, links[chart.anchor], tr, pngOpts); err != nil {
			return err
		}
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("PDF output error: %w", err)
	}
	return nil
}

func (r *FPDFRenderer) writeHeader(pdf *fpdf.Fpdf, doc *parsedDocument, opts fpdf.ImageOptions) {
	pageWidth, _ := pdf.GetPageSize()

	if len(doc.orgLogo) > 0 {
		pdf.ImageOptions("org-logo", marginSide, 10, 0, headerLogoH, false, opts, 0, "")
	}

	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(marginSide, 34, pageWidth-marginSide, 34)
	pdf.SetY(marginTop)
}

func (r *FPDFRenderer) writeFooter(pdf *fpdf.Fpdf, doc *parsedDocument, tr func(string) string, opts fpdf.ImageOptions) {
	pageWidth, pageHeight := pdf.GetPageSize()
	top := pageHeight - marginBottom + 6

	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.SetLineWidth(0.3)
	pdf.Line(marginSide, top, pageWidth-marginSide, top)

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])

	pdf.SetXY(marginSide, top+2)
	pdf.CellFormat(90, 5, tr(doc.generated), "", 2, "L", false, 0, "")
	pdf.CellFormat(90, 5, tr(doc.credit), "", 0, "L", false, 0, "")

	pdf.SetXY(marginSide, top+2)
	pageText := fmt.Sprintf("%s %d / {nb}", doc.pageLabel, pdf.PageNo())
	pdf.CellFormat(pageWidth-2*marginSide, 5, tr(pageText), "", 0, "C", false, 0, "")

	if len(doc.productLogo) > 0 {
		info := pdf.GetImageInfo("product-logo")
		w := footerLogoH
		if info != nil && info.Height() > 0 {
			w = footerLogoH * info.Width() / info.Height()
		}
		pdf.ImageOptions("product-logo", pageWidth-marginSide-w, top+2, w, footerLogoH, false, opts, 0, "")
	}
}

// writeContents prints the title block and the table of contents. Page
// numbers are aliases resolved once each chart is placed.
func (r *FPDFRenderer) writeContents(pdf *fpdf.Fpdf, doc *parsedDocument, tr func(string) string) map[string]int {
	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 2*marginSide

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, tr(doc.title), "", 1, "L", false, 0, "")
	if doc.period != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 6, tr(doc.period), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	if doc.contents != "" {
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(0, 8, tr(doc.contents), "", 1, "L", false, 0, "")
	}

	widths := []float64{12, contentWidth - 12 - 24, 24}
	headers := doc.tocHeaders
	for len(headers) < len(widths) {
		headers = append(headers, "")
	}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	for i, w := range widths {
		pdf.CellFormat(w, 7, tr(headers[i]), "", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	links := make(map[string]int, len(doc.toc))
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, row := range doc.toc {
		link := pdf.AddLink()
		links[row.anchor] = link

		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		}
		pdf.CellFormat(widths[0], 6, row.index, "B", 0, "L", fill, link, "")
		pdf.CellFormat(widths[1], 6, truncate(pdf, tr(row.title), widths[1]-2), "B", 0, "L", fill, link, "")
		pdf.CellFormat(widths[2], 6, pageAlias(row.anchor), "B", 1, "L", fill, link, "")
	}
	pdf.Ln(6)
	return links
}

func (r *FPDFRenderer) writeChart(pdf *fpdf.Fpdf, chart parsedChart, link int, tr func(string) string, opts fpdf.ImageOptions) error {
	pageWidth, pageHeight := pdf.GetPageSize()
	contentWidth := pageWidth - 2*marginSide

	info := pdf.RegisterImageOptionsReader(chart.anchor, opts, bytes.NewReader(chart.png))
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("chart %s: %w", chart.anchor, err)
	}

	w := contentWidth
	h := w * info.Height() / info.Width()
	maxH := pageHeight - marginTop - marginBottom - chartTitleH - chartGap
	if h > maxH {
		w = w * maxH / h
		h = maxH
	}

	// Keep title and image on the same page
	if pdf.GetY()+chartTitleH+h > pageHeight-marginBottom {
		pdf.AddPage()
	}

	if link > 0 {
		pdf.SetLink(link, pdf.GetY(), -1)
	}
	pdf.RegisterAlias(pageAlias(chart.anchor), strconv.Itoa(pdf.PageNo()))

	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, chartTitleH, tr(chart.title), "", 1, "L", false, 0, "")

	y := pdf.GetY()
	pdf.ImageOptions(chart.anchor, marginSide, y, w, h, false, opts, 0, "")
	pdf.SetY(y + h + chartGap)
	return pdf.Error()
}

func pageAlias(anchor string) string {
	return "{p:" + anchor + "}"
}

// truncate shortens s with an ellipsis until it fits width.
func truncate(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// parsedDocument is the subset of the report HTML the fpdf layout uses.
type parsedDocument struct {
	title       string
	period      string
	contents    string
	generated   string
	credit      string
	pageLabel   string
	orgLogo     []byte
	productLogo []byte
	tocHeaders  []string
	toc         []tocRow
	charts      []parsedChart
}

type tocRow struct {
	index  string
	title  string
	anchor string
}

type parsedChart struct {
	anchor string
	title  string
	png    []byte
}

func parseDocument(r io.Reader) (*parsedDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse report HTML: %w", err)
	}

	doc := &parsedDocument{}
	var walkErr error
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if walkErr != nil {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				switch {
				case hasClass(n, "org-logo"):
					doc.orgLogo, walkErr = decodeDataURI(attr(n, "src"))
				case hasClass(n, "product-logo"):
					doc.productLogo, walkErr = decodeDataURI(attr(n, "src"))
				}
			case atom.Span:
				switch {
				case hasClass(n, "generated"):
					doc.generated = textContent(n)
				case hasClass(n, "credit"):
					doc.credit = textContent(n)
				case hasClass(n, "page-number"):
					doc.pageLabel = textContent(n)
				}
			case atom.H1:
				doc.title = textContent(n)
			case atom.P:
				if hasClass(n, "period") {
					doc.period = textContent(n)
				}
			case atom.H3:
				if hasClass(n, "toc-title") {
					doc.contents = textContent(n)
				}
			case atom.Th:
				doc.tocHeaders = append(doc.tocHeaders, textContent(n))
			case atom.Tr:
				if row, ok := parseTOCRow(n); ok {
					doc.toc = append(doc.toc, row)
					return
				}
			case atom.Div:
				if hasClass(n, "chart") {
					var chart parsedChart
					chart, walkErr = parseChart(n)
					if walkErr == nil {
						doc.charts = append(doc.charts, chart)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if walkErr != nil {
		return nil, walkErr
	}
	return doc, nil
}

func parseTOCRow(tr *html.Node) (tocRow, bool) {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Td {
			cells = append(cells, c)
		}
	}
	if len(cells) < 2 {
		return tocRow{}, false
	}
	link := findElement(cells[1], atom.A)
	if link == nil {
		return tocRow{}, false
	}
	href := attr(link, "href")
	if !strings.HasPrefix(href, "#") {
		return tocRow{}, false
	}
	return tocRow{index: textContent(cells[0]), title: textContent(link), anchor: href[1:]}, true
}

func parseChart(div *html.Node) (parsedChart, error) {
	heading := findElement(div, atom.H2)
	img := findElement(div, atom.Img)
	if heading == nil || img == nil {
		return parsedChart{}, errors.New("chart block without heading or image")
	}
	data, err := decodeDataURI(attr(img, "src"))
	if err != nil {
		return parsedChart{}, err
	}
	return parsedChart{anchor: attr(heading, "id"), title: textContent(heading), png: data}, nil
}

func decodeDataURI(src string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(src, prefix) {
		return nil, fmt.Errorf("unsupported image source %.40q", src)
	}
	data, err := base64.StdEncoding.DecodeString(src[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("decode embedded image: %w", err)
	}
	return data, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
