package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcourtman/zbxreport/internal/charts"
	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rcourtman/zbxreport/pkg/zabbix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	hosts map[string]zabbix.Host
	items map[string][]zabbix.Item // host id -> items matched by key
	calls atomic.Int32
}

func (f *fakeAPI) HostsByTechnicalName(context.Context, []string) ([]zabbix.Host, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeAPI) HostsByNamePattern(context.Context, []string) ([]zabbix.Host, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeAPI) HostIDsByGroupIDs(context.Context, []string) ([]string, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeAPI) HostsByIDs(_ context.Context, ids []string) ([]zabbix.Host, error) {
	f.calls.Add(1)
	var out []zabbix.Host
	for _, id := range ids {
		if h, ok := f.hosts[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeAPI) ItemByID(context.Context, string) (*zabbix.Item, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeAPI) ItemsByHostFilter(_ context.Context, hostID, field string, _ []string) ([]zabbix.Item, error) {
	f.calls.Add(1)
	if field != "key_" {
		return nil, nil
	}
	return f.items[hostID], nil
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		hosts: map[string]zabbix.Host{
			"10084": {HostID: "10084", Host: "web-01"},
			"10085": {HostID: "10085", Host: "web-02"},
		},
		items: map[string][]zabbix.Item{
			"10084": {{ItemID: "23296", HostID: "10084", Name: "CPU load", Key: "system.cpu.load"}},
			"10085": {{ItemID: "23400", HostID: "10085", Name: "CPU load", Key: "system.cpu.load"}},
		},
	}
}

type fakeBroker struct {
	err        error
	refreshErr error
	reused     bool
	calls      atomic.Int32
	refreshes  atomic.Int32
}

func (b *fakeBroker) Acquire(_ context.Context, sessionID string, _ websession.Credentials) (*websession.Session, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return &websession.Session{ID: sessionID, Reused: b.reused}, nil
}

func (b *fakeBroker) Refresh(_ context.Context, sessionID string, _ websession.Credentials) (*websession.Session, error) {
	b.refreshes.Add(1)
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	return &websession.Session{ID: sessionID}, nil
}

// fakeFetcher writes a scratch PNG for every item not listed in fail.
type fakeFetcher struct {
	dir      string
	fail     map[string]bool
	requests []charts.Request
	written  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, _ charts.Session, req charts.Request) (*charts.Image, error) {
	f.requests = append(f.requests, req)
	if f.fail[req.ItemID] {
		return nil, fmt.Errorf("item %s: %w", req.ItemID, charts.ErrNoChartData)
	}
	path := filepath.Join(f.dir, "zbx_g_"+req.ItemID+".png")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x89}, 15000), 0o600); err != nil {
		return nil, err
	}
	f.written = append(f.written, path)
	return &charts.Image{Title: req.HostName + " - " + req.Title, Path: path, Size: 15000, Window: "absolute"}, nil
}

type stubRenderer struct {
	err    error
	titles *[]string
}

func (s stubRenderer) Name() string { return "stub" }

func (s stubRenderer) Render(_ context.Context, html []byte, outPath string) error {
	if s.err != nil {
		return s.err
	}
	if s.titles != nil {
		for _, m := range regexp.MustCompile(`<h2 id="g\d+">([^<]*)</h2>`).FindAllSubmatch(html, -1) {
			*s.titles = append(*s.titles, string(m[1]))
		}
	}
	return os.WriteFile(outPath, bytes.Repeat([]byte("%"), 4096), 0o600)
}

func testJob(api *fakeAPI) Job {
	return Job{
		Raw: selection.Raw{
			Fields: map[string][]interface{}{
				"hostids":    {"10084", "10085"},
				"items_keys": {"system.cpu.load"},
			},
			From: "2024-03-01T00:00",
			To:   "2024-03-01T10:00",
		},
		API:       api,
		SessionID: "user-session",
	}
}

func newTestGenerator(t *testing.T, broker SessionBroker, fetcher ChartFetcher, renderer stubRenderer) (*Generator, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := NewGenerator(broker, fetcher, renderer, Options{
		Location: time.UTC,
		TmpDir:   dir,
		Now:      func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) },
	})
	require.NoError(t, err)
	return g, dir
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var fileNamePattern = regexp.MustCompile(`^zabbix_report_20240301_123045_[0-9A-Z]{26}\.pdf$`)

func TestGenerateDeliversAndCleansUp(t *testing.T) {
	scratch := t.TempDir()
	fetcher := &fakeFetcher{dir: scratch}
	var titles []string
	g, dir := newTestGenerator(t, &fakeBroker{}, fetcher, stubRenderer{titles: &titles})

	var delivered *Output
	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(out *Output) error {
		delivered = out
		assert.FileExists(t, out.Path)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, delivered)

	assert.Regexp(t, fileNamePattern, delivered.FileName)
	assert.Equal(t, 2, delivered.Charts)
	assert.Equal(t, 0, delivered.Missing)
	assert.Equal(t, int64(4096), delivered.Size)
	assert.Equal(t, []string{"web-01 - CPU load", "web-02 - CPU load"}, titles)

	require.Len(t, fetcher.requests, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), fetcher.requests[0].From)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), fetcher.requests[0].To)

	assert.NoFileExists(t, delivered.Path)
	for _, path := range fetcher.written {
		assert.NoFileExists(t, path)
	}
	assert.Empty(t, dirEntries(t, dir))

	run := delivered.Run
	assert.Equal(t, StageDone, run.Stage())
	assert.True(t, run.Finished())
	var stages []Stage
	for _, tr := range run.History() {
		stages = append(stages, tr.To)
	}
	assert.Equal(t, []Stage{
		StageValidatingInput,
		StageResolvingEntities,
		StageAcquiringSession,
		StageFetchingCharts,
		StageAssemblingReport,
		StageDone,
	}, stages)
}

func TestGenerateToleratesPartialChartFailures(t *testing.T) {
	fetcher := &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{"23296": true}}
	g, _ := newTestGenerator(t, &fakeBroker{}, fetcher, stubRenderer{})

	var delivered Output
	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(out *Output) error {
		delivered = *out
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered.Charts)
	assert.Equal(t, 1, delivered.Missing)
}

func TestGenerateWithoutChartsFails(t *testing.T) {
	fetcher := &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{"23296": true, "23400": true}}
	g, dir := newTestGenerator(t, &fakeBroker{}, fetcher, stubRenderer{})

	delivered := false
	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error {
		delivered = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, reporterrors.ErrNoGraphsProduced)
	assert.Equal(t, 400, reporterrors.HTTPStatus(reporterrors.KindOf(err)))
	assert.False(t, delivered)
	assert.Empty(t, dirEntries(t, dir))
}

func TestGenerateRetriesWithFreshSession(t *testing.T) {
	fetcher := &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{"23296": true, "23400": true}}
	broker := &fakeBroker{reused: true}
	g, _ := newTestGenerator(t, broker, fetcher, stubRenderer{})

	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.ErrorIs(t, err, reporterrors.ErrNoGraphsProduced)
	assert.Equal(t, int32(1), broker.refreshes.Load())
	assert.Len(t, fetcher.requests, 4)

	// A session that was just created is not refreshed
	fresh := &fakeBroker{}
	fetcher.requests = nil
	g, _ = newTestGenerator(t, fresh, fetcher, stubRenderer{})
	err = g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.ErrorIs(t, err, reporterrors.ErrNoGraphsProduced)
	assert.Zero(t, fresh.refreshes.Load())
	assert.Len(t, fetcher.requests, 2)
}

func TestGenerateRefreshFailure(t *testing.T) {
	loginErr := reporterrors.Wrap(reporterrors.KindWebLoginFailed, "web_login", errors.New("no cookie"))
	fetcher := &fakeFetcher{dir: t.TempDir(), fail: map[string]bool{"23296": true, "23400": true}}
	broker := &fakeBroker{reused: true, refreshErr: loginErr}
	g, dir := newTestGenerator(t, broker, fetcher, stubRenderer{})

	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.ErrorIs(t, err, reporterrors.ErrWebLoginFailed)
	assert.Len(t, fetcher.requests, 2)
	assert.Empty(t, dirEntries(t, dir))
}

// expiringFrontend serves chart.php only to the most recently issued
// session cookie. Revoked sessions get the login page instead.
type expiringFrontend struct {
	mu     sync.Mutex
	token  string
	logins atomic.Int32
}

func (f *expiringFrontend) revoke() {
	f.mu.Lock()
	f.token = ""
	f.mu.Unlock()
}

func (f *expiringFrontend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/zabbix/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<html><form><input type="hidden" name="sid" value="abc"></form></html>`))
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("name") != "Admin" || r.PostForm.Get("password") != "zabbix" {
			_, _ = w.Write([]byte("<html>login failed</html>"))
			return
		}
		token := fmt.Sprintf("session-%d", f.logins.Add(1))
		f.mu.Lock()
		f.token = token
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "zbx_session", Value: token, Path: "/zabbix/"})
		_, _ = w.Write([]byte("<html>dashboard</html>"))
	})
	mux.HandleFunc("/zabbix/login.php", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login failed</html>"))
	})
	mux.HandleFunc("/zabbix/chart.php", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("zbx_session")
		f.mu.Lock()
		valid := err == nil && f.token != "" && cookie.Value == f.token
		f.mu.Unlock()
		if !valid {
			w.Header().Set("Content-Type", "text/html; charset=UTF-8")
			_, _ = w.Write([]byte("<html>" + strings.Repeat(" ", 20000) + "</html>"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(chartPNG(15000))
	})
	return mux
}

// chartPNG is a valid PNG padded to size.
func chartPNG(size int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if buf.Len() < size {
		buf.Write(make([]byte, size-buf.Len()))
	}
	return buf.Bytes()
}

func TestGenerateLogsInAgainAfterFrontendSessionExpires(t *testing.T) {
	frontend := &expiringFrontend{}
	srv := httptest.NewServer(frontend.handler())
	t.Cleanup(srv.Close)

	broker, err := websession.NewBroker(websession.NewMemoryStore(), srv.URL+"/zabbix", websession.Options{
		LoginTimeout: 5 * time.Second,
		TTL:          time.Hour,
	})
	require.NoError(t, err)
	fetcher, err := charts.NewFetcher(charts.Options{TmpDir: t.TempDir(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	g, _ := newTestGenerator(t, broker, fetcher, stubRenderer{})

	ctx := context.Background()
	job := testJob(newFakeAPI())
	job.Credentials = websession.Credentials{User: "Admin", Password: "zabbix"}
	var out Output
	deliver := func(o *Output) error {
		out = *o
		return nil
	}

	require.NoError(t, g.Generate(ctx, job, deliver))
	assert.Equal(t, int32(1), frontend.logins.Load())

	// The stored jar is reused while the frontend accepts it
	require.NoError(t, g.Generate(ctx, job, deliver))
	assert.Equal(t, int32(1), frontend.logins.Load())

	frontend.revoke()
	require.NoError(t, g.Generate(ctx, job, deliver))
	assert.Equal(t, int32(2), frontend.logins.Load())
	assert.Equal(t, 2, out.Charts)
	assert.Equal(t, 0, out.Missing)

	require.NoError(t, g.Generate(ctx, job, deliver))
	assert.Equal(t, int32(2), frontend.logins.Load())
}

func TestGenerateRejectsInvertedRangeBeforeOutboundCalls(t *testing.T) {
	api := newFakeAPI()
	broker := &fakeBroker{}
	fetcher := &fakeFetcher{dir: t.TempDir()}
	g, _ := newTestGenerator(t, broker, fetcher, stubRenderer{})

	job := testJob(api)
	job.Raw.From, job.Raw.To = job.Raw.To, job.Raw.From
	err := g.Generate(context.Background(), job, func(*Output) error { return nil })

	assert.Equal(t, reporterrors.KindInvalidInput, reporterrors.KindOf(err))
	assert.Zero(t, api.calls.Load())
	assert.Zero(t, broker.calls.Load())
	assert.Empty(t, fetcher.requests)
}

func TestGenerateRemovesScratchImagesWhenAssemblyFails(t *testing.T) {
	fetcher := &fakeFetcher{dir: t.TempDir()}
	g, dir := newTestGenerator(t, &fakeBroker{}, fetcher, stubRenderer{err: errors.New("renderer exploded")})

	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.Equal(t, reporterrors.KindBuild, reporterrors.KindOf(err))
	require.Len(t, fetcher.written, 2)
	for _, path := range fetcher.written {
		assert.NoFileExists(t, path)
	}
	assert.Empty(t, dirEntries(t, dir))
}

func TestGenerateWebLoginFailure(t *testing.T) {
	loginErr := reporterrors.Wrap(reporterrors.KindWebLoginFailed, "web_login", errors.New("no cookie"))
	fetcher := &fakeFetcher{dir: t.TempDir()}
	g, _ := newTestGenerator(t, &fakeBroker{err: loginErr}, fetcher, stubRenderer{})

	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.ErrorIs(t, err, reporterrors.ErrWebLoginFailed)
	assert.Empty(t, fetcher.requests)
}

func TestGenerateDeliveryFailureRemovesPDF(t *testing.T) {
	g, dir := newTestGenerator(t, &fakeBroker{}, &fakeFetcher{dir: t.TempDir()}, stubRenderer{})

	var path string
	err := g.Generate(context.Background(), testJob(newFakeAPI()), func(out *Output) error {
		path = out.Path
		return errors.New("client went away")
	})
	assert.Equal(t, reporterrors.KindInternal, reporterrors.KindOf(err))
	assert.NoFileExists(t, path)
	assert.Empty(t, dirEntries(t, dir))
}

func TestGenerateIgnoresCallerCancellation(t *testing.T) {
	g, _ := newTestGenerator(t, &fakeBroker{}, &fakeFetcher{dir: t.TempDir()}, stubRenderer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Generate(ctx, testJob(newFakeAPI()), func(*Output) error { return nil })
	assert.NoError(t, err)
}

func TestGenerateWithoutMatchingItems(t *testing.T) {
	api := newFakeAPI()
	api.items = nil
	g, _ := newTestGenerator(t, &fakeBroker{}, &fakeFetcher{dir: t.TempDir()}, stubRenderer{})

	err := g.Generate(context.Background(), testJob(api), func(*Output) error { return nil })
	assert.ErrorIs(t, err, reporterrors.ErrNoGraphsProduced)
}

func TestRunIgnoresTransitionsAfterCompletion(t *testing.T) {
	ctx := context.Background()
	run := newRun("r1")
	run.advance(ctx, StageValidatingInput)
	run.fail(ctx, errors.New("bad"))
	run.advance(ctx, StageDone)

	assert.Equal(t, StageFailed, run.Stage())
	assert.EqualError(t, run.Err(), "bad")
	assert.Len(t, run.History(), 2)
}
