// Package report runs the chart report pipeline: normalize the selection,
// resolve targets, obtain a web session, fetch charts and assemble the PDF.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rcourtman/zbxreport/internal/charts"
	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/metrics"
	"github.com/rcourtman/zbxreport/internal/resolver"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rcourtman/zbxreport/pkg/reporting"
)

const periodLayout = "02/01/2006 15:04"

// SessionBroker hands out authenticated frontend sessions. Refresh drops
// the stored session and logs in again.
type SessionBroker interface {
	Acquire(ctx context.Context, sessionID string, creds websession.Credentials) (*websession.Session, error)
	Refresh(ctx context.Context, sessionID string, creds websession.Credentials) (*websession.Session, error)
}

// ChartFetcher downloads one chart image.
type ChartFetcher interface {
	Fetch(ctx context.Context, session charts.Session, req charts.Request) (*charts.Image, error)
}

// Job is one report request.
type Job struct {
	Raw selection.Raw
	// API is the monitoring API client authenticated for the requesting user.
	API         resolver.API
	SessionID   string
	Credentials websession.Credentials
	Lang        string
	Labels      reporting.Labels
}

// Output is a finished report, valid only for the duration of deliver.
type Output struct {
	Path     string
	FileName string
	Size     int64
	Charts   int
	Missing  int
	Run      *Run
}

// Options configures a Generator.
type Options struct {
	Location        *time.Location
	TmpDir          string
	OrgLogoPath     string
	ProductLogoPath string
	Now             func() time.Time
}

// Generator produces reports. It is safe for concurrent use.
type Generator struct {
	sessions SessionBroker
	charts   ChartFetcher
	renderer reporting.Renderer
	opts     Options
}

// NewGenerator wires the pipeline stages together.
func NewGenerator(sessions SessionBroker, fetcher ChartFetcher, renderer reporting.Renderer, opts Options) (*Generator, error) {
	if sessions == nil || fetcher == nil || renderer == nil {
		return nil, errors.New("report generator requires a session broker, chart fetcher and renderer")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TmpDir == "" {
		opts.TmpDir = os.TempDir()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.TmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Generator{sessions: sessions, charts: fetcher, renderer: renderer, opts: opts}, nil
}

// FileName returns the download name for a report generated at t.
func FileName(t time.Time) string {
	return "zabbix_report_" + t.Format("20060102_150405") + "_" + ulid.Make().String() + ".pdf"
}

// Generate runs job and hands the finished document to deliver. The PDF is
// removed once deliver returns. The pipeline is not aborted when ctx is
// cancelled; each outbound call is bounded by its own timeout instead.
func (g *Generator) Generate(ctx context.Context, job Job, deliver func(*Output) error) (err error) {
	ctx = context.WithoutCancel(ctx)
	run := newRun(ulid.Make().String())
	logger := logging.FromContext(ctx).With().Str("run_id", run.ID).Logger()
	ctx = logger.WithContext(ctx)

	metrics.ReportsInFlight.Inc()
	defer func() {
		metrics.ReportsInFlight.Dec()
		result := "success"
		if err != nil {
			run.fail(ctx, err)
			result = string(reporterrors.KindOf(err))
		}
		metrics.RecordReport(result, run.Duration())
	}()

	out, err := g.produce(ctx, run, job)
	if err != nil {
		return err
	}
	defer removeFile(ctx, out.Path)

	metrics.RecordPDFSize(out.Size)
	if err := deliver(out); err != nil {
		return reporterrors.Wrap(reporterrors.KindInternal, "deliver_report", err)
	}
	run.advance(ctx, StageDone)
	logger.Info().
		Str("file", out.FileName).
		Int("charts", out.Charts).
		Int("missing", out.Missing).
		Int64("bytes", out.Size).
		Dur("duration", run.Duration()).
		Msg("Report delivered")
	return nil
}

// produce runs every stage up to a PDF on disk. Scratch images never outlive it.
func (g *Generator) produce(ctx context.Context, run *Run, job Job) (*Output, error) {
	logger := logging.FromContext(ctx)

	run.advance(ctx, StageValidatingInput)
	filter, err := selection.Normalize(job.Raw, selection.Options{Location: g.opts.Location, Now: g.opts.Now})
	if err != nil {
		return nil, err
	}
	if job.API == nil {
		return nil, reporterrors.New(reporterrors.KindInvalidSession, "generate", "no API client for session")
	}

	run.advance(ctx, StageResolvingEntities)
	resolution, err := resolver.New(job.API).Resolve(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(resolution.Targets) == 0 {
		return nil, reporterrors.New(reporterrors.KindNoGraphsProduced, "resolve_items", "no items matched")
	}

	run.advance(ctx, StageAcquiringSession)
	session, err := g.sessions.Acquire(ctx, job.SessionID, job.Credentials)
	if err != nil {
		return nil, err
	}

	run.advance(ctx, StageFetchingCharts)
	var images []*charts.Image
	defer func() {
		for _, img := range images {
			removeFile(ctx, img.Path)
		}
	}()

	images, missing := g.fetchAll(ctx, session, resolution.Targets, filter.Range)
	if len(images) == 0 && session.Reused {
		// A stored session the frontend no longer accepts yields login pages
		logger.Info().Int("targets", len(resolution.Targets)).Msg("No charts with stored web session, logging in again")
		session, err = g.sessions.Refresh(ctx, job.SessionID, job.Credentials)
		if err != nil {
			return nil, err
		}
		images, missing = g.fetchAll(ctx, session, resolution.Targets, filter.Range)
	}
	if len(images) == 0 {
		return nil, reporterrors.New(reporterrors.KindNoGraphsProduced, "fetch_charts",
			fmt.Sprintf("%d targets produced no image", len(resolution.Targets)))
	}

	run.advance(ctx, StageAssemblingReport)
	entries := make([]reporting.Entry, 0, len(images))
	for _, img := range images {
		entries = append(entries, reporting.Entry{Title: img.Title, ImagePath: img.Path})
	}

	labels := job.Labels
	if labels == (reporting.Labels{}) {
		labels = reporting.DefaultLabels
	}
	now := g.opts.Now().In(g.opts.Location)
	name := FileName(now)
	outPath := filepath.Join(g.opts.TmpDir, name)

	assembler := reporting.NewAssembler(g.renderer, reporting.AssemblerOptions{
		Lang:            job.Lang,
		Labels:          labels,
		Period:          filter.Range.From.Format(periodLayout) + " - " + filter.Range.To.Format(periodLayout),
		OrgLogoPath:     g.opts.OrgLogoPath,
		ProductLogoPath: g.opts.ProductLogoPath,
		Location:        g.opts.Location,
		Now:             g.opts.Now,
	})
	if err := assembler.Build(ctx, entries, outPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		removeFile(ctx, outPath)
		return nil, reporterrors.WrapBuild("stat_pdf", err)
	}
	return &Output{
		Path:     outPath,
		FileName: name,
		Size:     info.Size(),
		Charts:   len(images),
		Missing:  missing,
		Run:      run,
	}, nil
}

// fetchAll downloads a chart per target. Failed targets are logged and counted.
func (g *Generator) fetchAll(ctx context.Context, session *websession.Session, targets []resolver.Target, window selection.Range) ([]*charts.Image, int) {
	logger := logging.FromContext(ctx)
	var images []*charts.Image
	missing := 0
	for _, target := range targets {
		img, err := g.charts.Fetch(ctx, session, charts.Request{
			HostName: target.HostName,
			ItemID:   target.ItemID,
			Title:    target.Title,
			From:     window.From,
			To:       window.To,
		})
		if err != nil {
			missing++
			logger.Warn().Err(err).Str("host", target.HostName).Str("itemid", target.ItemID).Msg("Chart skipped")
			continue
		}
		images = append(images, img)
	}
	return images, missing
}

func removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove scratch file")
	}
}
