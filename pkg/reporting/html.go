package reporting

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"time"
)

// Document is everything the HTML template needs.
type Document struct {
	Lang        string
	Labels      Labels
	Period      string
	GeneratedAt time.Time
	OrgLogo     []byte
	ProductLogo []byte
	Charts      []Chart
}

// Chart is a rendered chart image with its document anchor.
type Chart struct {
	Index int
	Title string
	PNG   []byte
}

// Anchor is the id the table of contents links to.
func (c Chart) Anchor() string {
	return "g" + strconv.Itoa(c.Index)
}

const generatedLayout = "02/01/2006 15:04:05"

var documentTemplate = template.Must(template.New("report").Funcs(template.FuncMap{"dataURI": dataURI}).Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<title>{{.Labels.Title}}</title>
<style>
@page { margin: 70mm 15mm 40mm 15mm; }
body { font-family: Arial, Helvetica, sans-serif; color: #2c3e50; }
header.page-header { position: fixed; top: -60mm; left: 0; right: 0; height: 50mm; }
header.page-header img { max-height: 40mm; }
footer.page-footer { position: fixed; bottom: -30mm; left: 0; right: 0; height: 25mm; font-size: 9pt; color: #7f8c8d; }
footer.page-footer img { max-height: 12mm; }
footer.page-footer .page-number:after { content: counter(page); }
table.toc { width: 100%; border-collapse: collapse; margin-bottom: 10mm; }
table.toc th { background: #1e3a5f; color: #fff; text-align: left; padding: 2mm; }
table.toc td { border-bottom: 1px solid #dcdcdc; padding: 2mm; }
table.toc td.toc-page a:after { content: target-counter(attr(href), page); }
div.chart { page-break-inside: avoid; margin-bottom: 8mm; }
div.chart img { width: 100%; }
</style>
</head>
<body>
<header class="page-header"><img class="org-logo" src="{{dataURI .OrgLogo}}" alt=""></header>
<footer class="page-footer">
<span class="generated">{{.Labels.GeneratedOn}} {{.GeneratedAt.Format "` + generatedLayout + `"}}</span>
<span class="credit">{{.Labels.Credit}}</span>
<img class="product-logo" src="{{dataURI .ProductLogo}}" alt="">
<span class="page-number">{{.Labels.Page}} </span>
</footer>
<main>
<h1>{{.Labels.Title}}</h1>
{{- if .Period}}
<p class="period">{{.Labels.Period}}: {{.Period}}</p>
{{- end}}
<h3 class="toc-title">{{.Labels.Contents}}</h3>
<table class="toc">
<thead><tr><th>#</th><th>{{.Labels.ChartColumn}}</th><th>{{.Labels.PageColumn}}</th></tr></thead>
<tbody>
{{- range .Charts}}
<tr><td>{{.Index}}</td><td><a href="#{{.Anchor}}">{{.Title}}</a></td><td class="toc-page"><a href="#{{.Anchor}}"></a></td></tr>
{{- end}}
</tbody>
</table>
{{- range .Charts}}
<div class="chart" style="page-break-inside: avoid;">
<h2 id="{{.Anchor}}">{{.Title}}</h2>
<img src="{{dataURI .PNG}}" style="width:100%">
</div>
{{- end}}
</main>
</body>
</html>
`))

// dataURI embeds a PNG. The result is typed so html/template keeps it as-is.
func dataURI(data []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}

// RenderHTML renders doc as a standalone HTML document.
func RenderHTML(doc *Document) ([]byte, error) {
	if doc.Lang == "" {
		doc.Lang = "es"
	}
	if len(doc.OrgLogo) == 0 {
		doc.OrgLogo = defaultOrgLogo
	}
	if len(doc.ProductLogo) == 0 {
		doc.ProductLogo = defaultProductLogo
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	defaultOrgLogo     = solidPNG(240, 60, color.RGBA{R: 30, G: 58, B: 95, A: 255})
	defaultProductLogo = solidPNG(120, 30, color.RGBA{R: 52, G: 152, B: 219, A: 255})
)

// solidPNG draws a filled rectangle with a one pixel light border.
func solidPNG(w, h int, fill color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	border := color.RGBA{R: 248, G: 249, B: 250, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				img.SetRGBA(x, y, border)
				continue
			}
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
