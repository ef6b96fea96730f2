package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Report lifecycle metrics
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_reports_total",
			Help: "Total number of report runs by result",
		},
		[]string{"result"}, // success or the failure kind
	)

	ReportDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zbxreport_report_duration_seconds",
			Help:    "Wall time of report runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"result"},
	)

	ReportsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zbxreport_reports_in_flight",
			Help: "Number of report runs currently executing",
		},
	)

	ReportStageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_report_stage_transitions_total",
			Help: "Total number of report stage transitions by stage entered",
		},
		[]string{"stage"},
	)

	ReportPDFBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zbxreport_report_pdf_bytes",
			Help:    "Size of generated PDF documents",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KiB to 256MiB
		},
	)

	// Chart fetch metrics
	ChartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_charts_total",
			Help: "Total number of chart fetches by outcome",
		},
		[]string{"outcome"}, // absolute, relative, missing
	)

	ChartFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zbxreport_chart_fetch_duration_seconds",
			Help:    "Duration of individual chart.php requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"window"}, // absolute or relative
	)

	// Web session metrics
	WebLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_web_logins_total",
			Help: "Total number of web session acquisitions by result",
		},
		[]string{"result"}, // reused, login, failed
	)

	// Upstream API circuit breaker metrics
	APICircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zbxreport_api_circuit_state",
			Help: "Zabbix API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	APICircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_api_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbxreport_http_requests_total",
			Help: "Total number of HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)
)

// RecordReport records a finished report run
func RecordReport(result string, duration time.Duration) {
	ReportsTotal.WithLabelValues(result).Inc()
	ReportDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordStage records entry into a pipeline stage
func RecordStage(stage string) {
	ReportStageTransitionsTotal.WithLabelValues(stage).Inc()
}

// RecordPDFSize records the size of a delivered document
func RecordPDFSize(bytes int64) {
	ReportPDFBytes.Observe(float64(bytes))
}

// RecordChart records the outcome of one chart fetch
func RecordChart(outcome string) {
	ChartsTotal.WithLabelValues(outcome).Inc()
}

// RecordChartFetch records one chart.php round trip
func RecordChartFetch(window string, duration time.Duration) {
	ChartFetchDurationSeconds.WithLabelValues(window).Observe(duration.Seconds())
}

// RecordWebLogin records how a web session was obtained
func RecordWebLogin(result string) {
	WebLoginsTotal.WithLabelValues(result).Inc()
}

// RecordCircuitTransition is a zabbix.StateChangeFunc
func RecordCircuitTransition(name, from, to string) {
	APICircuitTransitionsTotal.WithLabelValues(name, from, to).Inc()
	APICircuitState.WithLabelValues(name).Set(circuitStateValue(to))
}

// RecordHTTPRequest records a served request
func RecordHTTPRequest(route string, status int) {
	HTTPRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
}

func circuitStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
