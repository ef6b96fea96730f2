// Package charts downloads rendered item graphs from chart.php.
package charts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/metrics"
	"golang.org/x/time/rate"
)

// Defaults match the frontend's own graph widget.
const (
	DefaultWidth         = 1600
	DefaultHeight        = 400
	DefaultMinImageBytes = 12000
	// MinRelativeWindow is the shortest window requested by the fallback.
	MinRelativeWindow = 300 * time.Second
	maxChartBytes     = 32 << 20
)

// ErrNoChartData means neither the absolute nor the relative window
// produced a usable image. It is not fatal for a report.
var ErrNoChartData = errors.New("no chart data")

// Request identifies one chart.
type Request struct {
	HostName string
	ItemID   string
	Title    string
	From     time.Time
	To       time.Time
}

// Image is an accepted chart written to a scratch file owned by the caller.
type Image struct {
	Title  string
	Path   string
	Size   int
	Window string // "absolute" or "relative"
}

// Options configures a Fetcher.
type Options struct {
	TmpDir        string
	Width         int
	Height        int
	MinImageBytes int
	Timeout       time.Duration
	// Rate limits chart.php requests per second. Zero means unlimited.
	Rate   float64
	Tracer *logging.Tracer
}

// Session is an authenticated frontend session; *websession.Session
// satisfies it.
type Session interface {
	Client() *http.Client
	BaseURL() *url.URL
}

// Fetcher downloads charts through an authenticated web session.
type Fetcher struct {
	opts    Options
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher and ensures the scratch directory exists.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.MinImageBytes <= 0 {
		opts.MinImageBytes = DefaultMinImageBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if err := os.MkdirAll(opts.TmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return &Fetcher{opts: opts, limiter: limiter}, nil
}

// window is one set of from/to query values.
type window struct {
	name string
	from string
	to   string
}

// Fetch downloads the chart for req, trying the requested absolute window
// first and a relative window of the same length ending now second.
func (f *Fetcher) Fetch(ctx context.Context, session Session, req Request) (*Image, error) {
	logger := logging.FromContext(ctx)

	windows := []window{
		{name: "absolute", from: req.From.Format("2006-01-02 15:04:05"), to: req.To.Format("2006-01-02 15:04:05")},
		{name: "relative", from: "now-" + strconv.FormatInt(relativeSeconds(req.From, req.To), 10) + "s", to: "now"},
	}

	for _, w := range windows {
		body, err := f.download(ctx, session, f.chartURL(session.BaseURL(), req.ItemID, w), w.name)
		if err != nil {
			timeout := reporterrors.IsTimeout(err)
			if timeout {
				metrics.RecordChart("timeout")
			}
			logger.Debug().Err(err).Bool("timeout", timeout).Str("itemid", req.ItemID).Str("window", w.name).Msg("Chart attempt failed")
			continue
		}
		if len(body) <= f.opts.MinImageBytes {
			logger.Debug().
				Int("bytes", len(body)).
				Str("itemid", req.ItemID).
				Str("window", w.name).
				Msg("Chart too small, treating as empty")
			continue
		}
		// Error and login pages come back with status 200
		if _, err := png.DecodeConfig(bytes.NewReader(body)); err != nil {
			logger.Debug().
				Err(err).
				Int("bytes", len(body)).
				Str("itemid", req.ItemID).
				Str("window", w.name).
				Msg("Chart is not a PNG image, treating as empty")
			continue
		}

		path, err := f.writeScratch(body)
		if err != nil {
			return nil, err
		}
		metrics.RecordChart(w.name)
		return &Image{
			Title:  req.HostName + " - " + req.Title,
			Path:   path,
			Size:   len(body),
			Window: w.name,
		}, nil
	}

	metrics.RecordChart("missing")
	f.opts.Tracer.Event().Str("itemid", req.ItemID).Str("host", req.HostName).Msg("no valid chart for item")
	return nil, fmt.Errorf("item %s on %s: %w", req.ItemID, req.HostName, ErrNoChartData)
}

// relativeSeconds is |to-from| in whole seconds, at least MinRelativeWindow.
func relativeSeconds(from, to time.Time) int64 {
	d := math.Abs(to.Sub(from).Seconds())
	return int64(math.Max(d, MinRelativeWindow.Seconds()))
}

func (f *Fetcher) chartURL(base *url.URL, itemID string, w window) string {
	q := url.Values{}
	q.Set("from", w.from)
	q.Set("to", w.to)
	q.Set("itemids[0]", itemID)
	q.Set("type", "0")
	q.Set("profileIdx", "web.item.graph.filter")
	q.Set("profileIdx2", itemID)
	q.Set("width", strconv.Itoa(f.opts.Width))
	q.Set("height", strconv.Itoa(f.opts.Height))

	u := base.ResolveReference(&url.URL{Path: "chart.php"})
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *Fetcher) download(ctx context.Context, session Session, target, windowName string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	defer func() { metrics.RecordChartFetch(windowName, time.Since(start)) }()

	resp, err := session.Client().Do(req)
	if err != nil {
		f.opts.Tracer.Event().Str("url", target).Err(err).Msg("fetch chart")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChartBytes))
	f.opts.Tracer.Event().
		Str("url", target).
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(body)).
		AnErr("error", err).
		Msg("fetch chart")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chart.php returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}

func (f *Fetcher) writeScratch(data []byte) (string, error) {
	path := filepath.Join(f.opts.TmpDir, "zbx_g_"+uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write chart scratch file: %w", err)
	}
	return path, nil
}
