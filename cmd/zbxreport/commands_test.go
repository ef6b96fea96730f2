package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcourtman/zbxreport/internal/config"
	"github.com/rcourtman/zbxreport/internal/crypto"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2024-03-01"
	GitCommit = "abcdef"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "zbxreport 1.2.3")
	assert.Contains(t, out.String(), "Built: 2024-03-01")
	assert.Contains(t, out.String(), "Commit: abcdef")

	BuildTime, GitCommit = "unknown", "unknown"
	out.Reset()
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.NotContains(t, out.String(), "Built:")
	assert.NotContains(t, out.String(), "Commit:")
}

func TestGenerateFlagsKeepCompositeItems(t *testing.T) {
	flags := generateCmd.Flags()
	require.NoError(t, flags.Parse([]string{
		"--host", "web-01",
		"--hostid", "10084,10085",
		"--item", "Linux by agent | Items: CPU load, Free memory",
		"--from", "2024-03-01 08:00",
		"--to", "2024-03-01 10:00",
	}))
	defer func() { genFlags = generateFlags{} }()

	form := genFlags.form()
	assert.Equal(t, []string{"web-01"}, form["hosts"])
	assert.Equal(t, []string{"10084", "10085"}, form["hostids"])
	assert.Equal(t, []string{"Linux by agent | Items: CPU load, Free memory"}, form["items_keys"])
	assert.Equal(t, "2024-03-01 08:00", form.Get("from_dt"))
	assert.Empty(t, form.Get("client_tz"))

	filter, err := selection.Normalize(selection.FromForm(form), selection.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CPU load", "Free memory"}, filter.ItemKeys)
	assert.Equal(t, []string{"10084", "10085"}, filter.HostIDs)
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	name := "zabbix_report_20240301_100000_X.pdf"

	assert.Equal(t, name, outputPath("", name))
	assert.Equal(t, filepath.Join(dir, name), outputPath(dir, name))
	assert.Equal(t, filepath.Join(dir, "new", name), outputPath(filepath.Join(dir, "new")+string(os.PathSeparator), name))
	assert.Equal(t, filepath.Join(dir, "cpu.pdf"), outputPath(filepath.Join(dir, "cpu.pdf"), name))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o600))

	dst := filepath.Join(dir, "nested", "out.pdf")
	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	assert.Error(t, copyFile(filepath.Join(dir, "missing.pdf"), dst))
}

func TestPipelineBuildsFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ZabbixURL = "http://zabbix.example/"
	cfg.DataPath = filepath.Join(dir, "data")
	cfg.TmpDir = filepath.Join(dir, "tmp")

	p, err := newPipeline(cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.generator)
	assert.NotNil(t, p.broker)
	assert.False(t, p.tracer.Enabled())
	assert.FileExists(t, filepath.Join(cfg.DataPath, "web_sessions.db"))
	assert.FileExists(t, filepath.Join(cfg.DataPath, crypto.KeyFileName))
}

func TestPipelineRejectsUnknownEngine(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ZabbixURL = "http://zabbix.example/"
	cfg.DataPath = dir
	cfg.TmpDir = dir
	cfg.PDFEngine = "latex"

	_, err := newPipeline(cfg)
	assert.Error(t, err)
}

func TestMetricsServerServesPrometheus(t *testing.T) {
	srv := newMetricsServer("127.0.0.1:0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
