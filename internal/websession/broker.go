// Package websession maintains authenticated frontend sessions for chart
// rendering. Charts are only served by the web UI, which uses cookie
// sessions independent of API tokens.
package websession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/metrics"
	"github.com/rcourtman/zbxreport/pkg/tlsutil"
	"golang.org/x/sync/singleflight"
)

// Credentials are the frontend user name and password.
type Credentials struct {
	User     string
	Password string
}

// Options configures a Broker.
type Options struct {
	VerifySSL    bool
	Fingerprint  string
	LoginTimeout time.Duration
	TTL          time.Duration
	Tracer       *logging.Tracer
}

// Session is an authenticated frontend session. Its client carries the
// session cookies and is safe for concurrent use.
type Session struct {
	ID     string
	Reused bool

	client *http.Client
	base   *url.URL
}

// Client returns the cookie-carrying HTTP client. It has no overall
// timeout; callers bound each request with a context.
func (s *Session) Client() *http.Client { return s.client }

// BaseURL returns the frontend base URL, always ending in "/".
func (s *Session) BaseURL() *url.URL {
	u := *s.base
	return &u
}

// Broker hands out web sessions, logging in only when no usable stored jar exists.
type Broker struct {
	store  Store
	base   *url.URL
	opts   Options
	tracer *logging.Tracer
	group  singleflight.Group
}

// NewBroker creates a broker for the frontend at baseURL.
func NewBroker(store Store, baseURL string, opts Options) (*Broker, error) {
	if store == nil {
		return nil, errors.New("web session store is required")
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid frontend URL %q", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawQuery, base.Fragment = "", ""

	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 30 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 8 * time.Hour
	}
	return &Broker{store: store, base: base, opts: opts, tracer: opts.Tracer}, nil
}

// Acquire returns the web session bound to sessionID, logging in with creds
// when none is stored. Concurrent calls for the same sessionID share one login.
func (b *Broker) Acquire(ctx context.Context, sessionID string, creds Credentials) (*Session, error) {
	if sessionID == "" {
		return nil, reporterrors.New(reporterrors.KindInvalidSession, "web_session", "empty session id")
	}
	key := storeKey(sessionID)

	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.acquire(ctx, sessionID, key, creds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (b *Broker) acquire(ctx context.Context, sessionID, key string, creds Credentials) (*Session, error) {
	logger := logging.FromContext(ctx)

	data, err := b.store.Load(ctx, key)
	switch {
	case err == nil && len(data) >= minStoredJarBytes:
		jar, decodeErr := decodeJar(data, b.base)
		if decodeErr == nil && hasSessionCookie(jar, b.base) {
			metrics.RecordWebLogin("reused")
			return b.newSession(sessionID, jar, true), nil
		}
		logger.Debug().AnErr("decode_error", decodeErr).Msg("Stored web session unusable, logging in again")
	case err != nil && !errors.Is(err, ErrNotFound):
		logger.Warn().Err(err).Msg("Failed to load stored web session")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, reporterrors.Wrap(reporterrors.KindInternal, "cookie_jar", err)
	}
	session := b.newSession(sessionID, jar, false)

	loginCtx, cancel := context.WithTimeout(ctx, b.opts.LoginTimeout)
	defer cancel()

	strategy, err := b.webLogin(loginCtx, session.client, creds)
	if err != nil {
		metrics.RecordWebLogin("failed")
		logger.Warn().Err(err).Str("user", creds.User).Msg("Web login failed")
		return nil, reporterrors.Wrap(reporterrors.KindWebLoginFailed, "web_login", err)
	}
	metrics.RecordWebLogin("login")
	logger.Info().Str("strategy", strategy).Str("user", creds.User).Msg("Web session established")

	encoded, err := encodeJar(jar, b.base)
	if err == nil {
		err = b.store.Save(ctx, key, encoded, time.Now().Add(b.opts.TTL))
	}
	if err != nil {
		// The session is still usable for this request
		logger.Warn().Err(err).Msg("Failed to persist web session")
	}
	return session, nil
}

// Validate reports whether s still carries a session cookie.
func (b *Broker) Validate(s *Session) bool {
	return s != nil && s.client != nil && hasSessionCookie(s.client.Jar, b.base)
}

// Refresh discards the stored jar for sessionID and logs in again.
func (b *Broker) Refresh(ctx context.Context, sessionID string, creds Credentials) (*Session, error) {
	if err := b.store.Delete(ctx, storeKey(sessionID)); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("Failed to drop stored web session")
	}
	return b.Acquire(ctx, sessionID, creds)
}

// Release forgets the web session bound to sessionID.
func (b *Broker) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return b.store.Delete(ctx, storeKey(sessionID))
}

func (b *Broker) newSession(id string, jar http.CookieJar, reused bool) *Session {
	client := tlsutil.NewHTTPClient(tlsutil.ClientOptions{
		VerifySSL:     b.opts.VerifySSL,
		Fingerprint:   b.opts.Fingerprint,
		Jar:           jar,
		MaxRedirects:  maxLoginRedirs,
		HeaderTimeout: 60 * time.Second,
	})
	// Per-request contexts bound every call made with this client
	client.Timeout = 0
	return &Session{ID: id, Reused: reused, client: client, base: b.base}
}
