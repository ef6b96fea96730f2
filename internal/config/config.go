// Package config manages zbxreport configuration.
//
// Settings come from an optional .env file in the data directory (and the
// working directory, for development) followed by process environment
// variables, which always win.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone database for minimal container images

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Render engines understood by the report assembler.
const (
	EngineFPDF        = "fpdf"
	EngineWkhtmltopdf = "wkhtmltopdf"
)

// Config holds all application configuration
type Config struct {
	// Monitoring system
	ZabbixURL       string // web frontend base URL (chart.php, index.php)
	ZabbixAPIURL    string // JSON-RPC endpoint
	ZabbixTZ        string // timezone used by the frontend for absolute bounds
	ZabbixUser      string // only used by the CLI generate command
	ZabbixPass      string
	ZabbixVerifySSL bool
	ZabbixTLSPin    string // optional SHA256 certificate fingerprint

	// Charts
	ChartWidth     int
	ChartHeight    int
	ChartMinBytes  int
	ChartFetchRate float64 // fetches per second, 0 means unlimited

	// Report assembly
	TmpDir          string
	PDFEngine       string
	WkhtmltopdfPath string
	CustomLogoPath  string
	ProductLogoPath string

	// Timeouts
	APITimeout     time.Duration
	ListingTimeout time.Duration
	LoginTimeout   time.Duration
	ChartTimeout   time.Duration

	// Server settings
	DataPath        string
	ListenHost      string
	ListenPort      int
	MetricsPort     int
	SessionTTL      time.Duration
	DefaultLanguage string
	SecureCookies   bool

	// Logging settings
	LogLevel   string
	LogFormat  string
	LogFile    string
	DebugTrace bool

	// Track which settings are overridden by environment variables
	EnvOverrides map[string]bool
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		ZabbixTZ:        "America/Santiago",
		ChartWidth:      1600,
		ChartHeight:     400,
		ChartMinBytes:   12000,
		TmpDir:          filepath.Join(os.TempDir(), "zbxreport"),
		PDFEngine:       EngineFPDF,
		WkhtmltopdfPath: "wkhtmltopdf",
		APITimeout:      30 * time.Second,
		ListingTimeout:  15 * time.Second,
		LoginTimeout:    30 * time.Second,
		ChartTimeout:    60 * time.Second,
		DataPath:        "/var/lib/zbxreport",
		ListenHost:      "0.0.0.0",
		ListenPort:      8080,
		MetricsPort:     9091,
		SessionTTL:      8 * time.Hour,
		DefaultLanguage: "es",
		LogLevel:        "info",
		LogFormat:       "auto",
		EnvOverrides:    make(map[string]bool),
	}
}

// Load reads configuration from .env files and environment variables
func Load() (*Config, error) {
	dataDir := "/var/lib/zbxreport"
	if dir := os.Getenv("ZBXREPORT_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env file if it exists (for deployment overrides)
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}

	// Also try loading from current directory for development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default()
	cfg.DataPath = dataDir
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	if c.EnvOverrides == nil {
		c.EnvOverrides = make(map[string]bool)
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
			c.EnvOverrides[key] = true
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			*dst = v == "true" || v == "1" || v == "yes"
			c.EnvOverrides[key] = true
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-integer environment value")
				return
			}
			*dst = n
			c.EnvOverrides[key] = true
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			// Bare numbers are seconds
			if d, err := time.ParseDuration(v + "s"); err == nil {
				*dst = d
			} else if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				log.Warn().Str("key", key).Str("value", v).Msg("Ignoring invalid duration environment value")
				return
			}
			c.EnvOverrides[key] = true
		}
	}

	str("ZABBIX_URL", &c.ZabbixURL)
	str("ZABBIX_API_URL", &c.ZabbixAPIURL)
	str("ZABBIX_TZ", &c.ZabbixTZ)
	str("ZABBIX_USER", &c.ZabbixUser)
	str("ZABBIX_PASS", &c.ZabbixPass)
	boolean("ZABBIX_VERIFY_SSL", &c.ZabbixVerifySSL)
	str("ZABBIX_TLS_FINGERPRINT", &c.ZabbixTLSPin)

	integer("CHART_WIDTH", &c.ChartWidth)
	integer("CHART_HEIGHT", &c.ChartHeight)
	integer("CHART_MIN_BYTES", &c.ChartMinBytes)
	if v, ok := lookup("CHART_FETCH_RATE"); ok && strings.TrimSpace(v) != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			c.ChartFetchRate = f
			c.EnvOverrides["CHART_FETCH_RATE"] = true
		}
	}

	str("TMP_DIR", &c.TmpDir)
	str("PDF_ENGINE", &c.PDFEngine)
	str("WKHTMLTOPDF_PATH", &c.WkhtmltopdfPath)
	str("CUSTOM_LOGO_PATH", &c.CustomLogoPath)
	str("PRODUCT_LOGO_PATH", &c.ProductLogoPath)

	duration("API_TIMEOUT", &c.APITimeout)
	duration("LISTING_TIMEOUT", &c.ListingTimeout)
	duration("LOGIN_TIMEOUT", &c.LoginTimeout)
	duration("CHART_TIMEOUT", &c.ChartTimeout)

	str("LISTEN_HOST", &c.ListenHost)
	integer("LISTEN_PORT", &c.ListenPort)
	integer("METRICS_PORT", &c.MetricsPort)
	duration("SESSION_TTL", &c.SessionTTL)
	str("DEFAULT_LANGUAGE", &c.DefaultLanguage)
	boolean("SECURE_COOKIES", &c.SecureCookies)

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_FILE", &c.LogFile)
	boolean("DEBUG_TRACE", &c.DebugTrace)

	c.PDFEngine = strings.ToLower(c.PDFEngine)
	if c.ZabbixAPIURL == "" && c.ZabbixURL != "" {
		c.ZabbixAPIURL = strings.TrimRight(c.ZabbixURL, "/") + "/api_jsonrpc.php"
	}
}

// Location returns the monitoring system timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ZabbixTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TraceFile is where diagnostic traces go when DebugTrace is enabled.
func (c *Config) TraceFile() string {
	return filepath.Join(c.TmpDir, "generate_trace.log")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ZabbixURL == "" {
		return fmt.Errorf("ZABBIX_URL is required")
	}
	for name, raw := range map[string]string{"ZABBIX_URL": c.ZabbixURL, "ZABBIX_API_URL": c.ZabbixAPIURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL: %q", name, raw)
		}
	}
	if _, err := time.LoadLocation(c.ZabbixTZ); err != nil {
		return fmt.Errorf("invalid ZABBIX_TZ %q: %w", c.ZabbixTZ, err)
	}
	if c.ChartWidth <= 0 || c.ChartHeight <= 0 {
		return fmt.Errorf("chart dimensions must be positive: %dx%d", c.ChartWidth, c.ChartHeight)
	}
	if c.ChartMinBytes < 0 {
		return fmt.Errorf("CHART_MIN_BYTES must not be negative")
	}
	if c.ChartFetchRate < 0 {
		return fmt.Errorf("CHART_FETCH_RATE must not be negative")
	}
	switch c.PDFEngine {
	case EngineFPDF, EngineWkhtmltopdf:
	default:
		return fmt.Errorf("unknown PDF_ENGINE %q (expected %s or %s)", c.PDFEngine, EngineFPDF, EngineWkhtmltopdf)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port: %d", c.ListenPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	for name, d := range map[string]time.Duration{
		"API_TIMEOUT":     c.APITimeout,
		"LISTING_TIMEOUT": c.ListingTimeout,
		"LOGIN_TIMEOUT":   c.LoginTimeout,
		"CHART_TIMEOUT":   c.ChartTimeout,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1 second", name)
		}
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1 minute")
	}
	return nil
}
