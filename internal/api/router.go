// Package api serves the report generator's HTTP surface: login, entity
// listings for the selection UI and PDF generation.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rcourtman/zbxreport/internal/config"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/metrics"
	"github.com/rcourtman/zbxreport/internal/report"
	"github.com/rcourtman/zbxreport/internal/resolver"
	"github.com/rcourtman/zbxreport/pkg/zabbix"
	"github.com/rs/zerolog/log"
)

const sessionCookieName = "zbxreport_session"

// ZabbixAPI is the monitoring API client owned by one user session.
type ZabbixAPI interface {
	resolver.API
	Hosts(ctx context.Context) ([]zabbix.Host, error)
	HostGroups(ctx context.Context) ([]zabbix.HostGroup, error)
	Templates(ctx context.Context) ([]zabbix.Template, error)
	ItemsByTemplates(ctx context.Context, templateIDs []string) ([]zabbix.Item, error)
	Logout(ctx context.Context) error
}

// APIFactory logs in to the monitoring API as user.
type APIFactory func(ctx context.Context, user, password string) (ZabbixAPI, error)

// NewAPIFactory returns a factory producing clients for the configured API
// endpoint.
func NewAPIFactory(cfg *config.Config, tracer *logging.Tracer) APIFactory {
	return func(ctx context.Context, user, password string) (ZabbixAPI, error) {
		client, err := zabbix.NewClient(ctx, clientConfig(cfg, tracer, user, password))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// FetchAPIVersion asks the configured endpoint for its version without
// logging in.
func FetchAPIVersion(ctx context.Context, cfg *config.Config, tracer *logging.Tracer) (string, error) {
	client, err := zabbix.NewClient(ctx, clientConfig(cfg, tracer, "", ""))
	if err != nil {
		return "", err
	}
	return client.APIVersion(ctx)
}

func clientConfig(cfg *config.Config, tracer *logging.Tracer, user, password string) zabbix.ClientConfig {
	return zabbix.ClientConfig{
		URL:           cfg.ZabbixAPIURL,
		User:          user,
		Password:      password,
		VerifySSL:     cfg.ZabbixVerifySSL,
		Fingerprint:   cfg.ZabbixTLSPin,
		Timeout:       cfg.APITimeout,
		Breaker:       zabbix.DefaultBreaker,
		OnStateChange: metrics.RecordCircuitTransition,
		Tracer:        tracer,
	}
}

// ReportGenerator runs report jobs.
type ReportGenerator interface {
	Generate(ctx context.Context, job report.Job, deliver func(*report.Output) error) error
}

// WebSessionReleaser forgets frontend sessions of ended user sessions.
type WebSessionReleaser interface {
	Release(ctx context.Context, sessionID string) error
}

// Dependencies are the collaborators of the router.
type Dependencies struct {
	NewAPI      APIFactory
	Generator   ReportGenerator
	WebSessions WebSessionReleaser
}

// Router handles all HTTP routes
type Router struct {
	mux         *http.ServeMux
	config      *config.Config
	deps        Dependencies
	sessions    *SessionStore
	csrf        *CSRFTokenStore
	loginLimit  *RateLimiter
	reportLimit *RateLimiter
	handler     http.Handler
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, deps Dependencies) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if deps.NewAPI == nil || deps.Generator == nil {
		return nil, errors.New("router requires an API factory and a report generator")
	}

	r := &Router{
		mux:         http.NewServeMux(),
		config:      cfg,
		deps:        deps,
		sessions:    NewSessionStore(cfg.SessionTTL),
		csrf:        NewCSRFTokenStore(),
		loginLimit:  NewRateLimiter(10, time.Minute),
		reportLimit: NewRateLimiter(30, time.Minute),
	}
	r.sessions.OnExpire(r.endSession)
	r.setupRoutes()
	r.handler = ErrorHandler(SecurityHeaders(r.mux))
	return r, nil
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/healthz", r.handleHealth)

	r.mux.HandleFunc("/api/login", r.loginLimit.Middleware(r.handleLogin))
	r.mux.HandleFunc("/api/logout", r.handleLogout)
	r.mux.HandleFunc("/api/csrf", r.handleCSRF)

	r.mux.HandleFunc("/api/hosts", r.handleHosts)
	r.mux.HandleFunc("/api/hostgroups", r.handleHostGroups)
	r.mux.HandleFunc("/api/templates", r.handleTemplates)
	r.mux.HandleFunc("/api/items", r.handleItems)

	r.mux.HandleFunc("/generate", r.reportLimit.Middleware(r.handleGenerate))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Stop ends background cleanup and logs out every remaining session.
func (r *Router) Stop() {
	r.sessions.Stop()
	for _, session := range r.sessions.Drain() {
		r.endSession(session)
	}
	r.csrf.Stop()
	r.loginLimit.Stop()
	r.reportLimit.Stop()
}

// endSession releases everything a user session holds.
func (r *Router) endSession(session *SessionData) {
	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.APITimeout)
	defer cancel()

	if session.API != nil {
		if err := session.API.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("Monitoring API logout failed")
		}
	}
	if r.deps.WebSessions != nil {
		if err := r.deps.WebSessions.Release(ctx, session.WebSessionID); err != nil {
			log.Warn().Err(err).Msg("Failed to release web session")
		}
	}
	r.csrf.DeleteCSRFToken(session.WebSessionID)
}

// currentSession returns the live session for the request cookie.
func (r *Router) currentSession(req *http.Request) (string, *SessionData) {
	cookie, err := req.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", nil
	}
	return cookie.Value, r.sessions.ValidateAndExtendSession(cookie.Value)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	upstream := zabbix.BreakerState(zabbix.DefaultBreaker)
	if upstream == "" {
		upstream = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"sessions":   r.sessions.Len(),
		"zabbix_api": upstream,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}
