package main

import (
	"fmt"

	"github.com/rcourtman/zbxreport/internal/charts"
	"github.com/rcourtman/zbxreport/internal/config"
	"github.com/rcourtman/zbxreport/internal/crypto"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/report"
	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rcourtman/zbxreport/pkg/reporting"
	"github.com/rs/zerolog/log"
)

// pipeline holds the long-lived report components built from configuration.
type pipeline struct {
	tracer    *logging.Tracer
	store     *websession.SQLiteStore
	broker    *websession.Broker
	generator *report.Generator
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{}
	ready := false
	defer func() {
		if !ready {
			p.Close()
		}
	}()

	var err error
	p.tracer, err = logging.NewTracer(cfg.DebugTrace, cfg.TraceFile())
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	if p.tracer.Enabled() {
		log.Info().Str("file", cfg.TraceFile()).Msg("Diagnostic trace enabled")
	}

	p.store, err = websession.NewSQLiteStore(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	// Stored jars hold live frontend session cookies
	sealer, err := crypto.NewManager(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	p.broker, err = websession.NewBroker(websession.NewSealedStore(p.store, sealer), cfg.ZabbixURL, websession.Options{
		VerifySSL:    cfg.ZabbixVerifySSL,
		Fingerprint:  cfg.ZabbixTLSPin,
		LoginTimeout: cfg.LoginTimeout,
		TTL:          cfg.SessionTTL,
		Tracer:       p.tracer,
	})
	if err != nil {
		return nil, err
	}

	fetcher, err := charts.NewFetcher(charts.Options{
		TmpDir:        cfg.TmpDir,
		Width:         cfg.ChartWidth,
		Height:        cfg.ChartHeight,
		MinImageBytes: cfg.ChartMinBytes,
		Timeout:       cfg.ChartTimeout,
		Rate:          cfg.ChartFetchRate,
		Tracer:        p.tracer,
	})
	if err != nil {
		return nil, err
	}

	renderer, err := reporting.NewRenderer(cfg.PDFEngine, reporting.RendererOptions{
		WkhtmltopdfPath: cfg.WkhtmltopdfPath,
		TmpDir:          cfg.TmpDir,
	})
	if err != nil {
		return nil, err
	}

	p.generator, err = report.NewGenerator(p.broker, fetcher, renderer, report.Options{
		Location:        cfg.Location(),
		TmpDir:          cfg.TmpDir,
		OrgLogoPath:     cfg.CustomLogoPath,
		ProductLogoPath: cfg.ProductLogoPath,
	})
	if err != nil {
		return nil, err
	}
	ready = true
	return p, nil
}

// Close releases the cookie store and trace file.
func (p *pipeline) Close() {
	if p == nil {
		return
	}
	if p.store != nil {
		p.store.Stop()
	}
	if p.tracer != nil {
		if err := p.tracer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close trace file")
		}
	}
}
