package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReport(t *testing.T) {
	before := testutil.ToFloat64(ReportsTotal.WithLabelValues("no_graphs_produced"))
	RecordReport("no_graphs_produced", 3*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(ReportsTotal.WithLabelValues("no_graphs_produced")))
}

func TestRecordChart(t *testing.T) {
	before := testutil.ToFloat64(ChartsTotal.WithLabelValues("relative"))
	RecordChart("relative")
	RecordChart("relative")
	assert.Equal(t, before+2, testutil.ToFloat64(ChartsTotal.WithLabelValues("relative")))
}

func TestRecordChartFetchObservesHistogram(t *testing.T) {
	RecordChartFetch("absolute", 250*time.Millisecond)

	var m dto.Metric
	observer, err := ChartFetchDurationSeconds.GetMetricWithLabelValues("absolute")
	require.NoError(t, err)
	require.NoError(t, observer.(interface{ Write(*dto.Metric) error }).Write(&m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

func TestRecordCircuitTransition(t *testing.T) {
	RecordCircuitTransition("zabbix-api-test", "closed", "open")
	assert.Equal(t, float64(2), testutil.ToFloat64(APICircuitState.WithLabelValues("zabbix-api-test")))

	RecordCircuitTransition("zabbix-api-test", "open", "half-open")
	assert.Equal(t, float64(1), testutil.ToFloat64(APICircuitState.WithLabelValues("zabbix-api-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(APICircuitTransitionsTotal.WithLabelValues("zabbix-api-test", "closed", "open")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(403))
	assert.Equal(t, "5xx", statusClass(500))
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordStage("fetching_charts")
	RecordPDFSize(120_000)
	RecordWebLogin("reused")
	RecordHTTPRequest("/generate", 400)
}
