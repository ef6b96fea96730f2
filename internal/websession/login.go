package websession

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	userAgent      = "Mozilla/5.0"
	acceptHTML     = "text/html, */*"
	maxLoginPage   = 1 << 20
	maxLoginRedirs = 10
)

// loginStrategy posts credentials to one frontend entry point.
type loginStrategy struct {
	name   string
	path   string
	fields func(creds Credentials) url.Values
}

// Fixed order: the current login form, then the legacy autologin endpoint.
var loginStrategies = []loginStrategy{
	{
		name: "index",
		path: "index.php",
		fields: func(creds Credentials) url.Values {
			return url.Values{"name": {creds.User}, "password": {creds.Password}, "enter": {"1"}}
		},
	},
	{
		name: "login",
		path: "login.php",
		fields: func(creds Credentials) url.Values {
			return url.Values{"name": {creds.User}, "password": {creds.Password}, "autologin": {"1"}}
		},
	},
}

// webLogin runs the login strategies against base using client (whose jar
// collects cookies). It returns the name of the strategy that produced a
// session cookie.
func (b *Broker) webLogin(ctx context.Context, client *http.Client, creds Credentials) (string, error) {
	sid := b.discoverSID(ctx, client)

	for _, strategy := range loginStrategies {
		form := strategy.fields(creds)
		if sid != "" {
			form.Set("sid", sid)
		}
		target := b.base.ResolveReference(&url.URL{Path: strategy.path}).String()

		status, err := b.postForm(ctx, client, target, form)
		b.tracer.Event().
			Str("strategy", strategy.name).
			Int("status", status).
			AnErr("error", err).
			Msg("web login attempt")
		if err != nil {
			continue
		}
		if hasSessionCookie(client.Jar, b.base) {
			return strategy.name, nil
		}
	}
	return "", fmt.Errorf("no session cookie after %d login attempts", len(loginStrategies))
}

// discoverSID fetches the login page and returns the hidden sid input, if any.
func (b *Broker) discoverSID(ctx context.Context, client *http.Client) string {
	target := b.base.ResolveReference(&url.URL{Path: "index.php"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ""
	}
	setBrowserHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		b.tracer.Event().Err(err).Msg("login page fetch failed")
		return ""
	}
	defer resp.Body.Close()
	return findSID(io.LimitReader(resp.Body, maxLoginPage))
}

func (b *Broker) postForm(ctx context.Context, client *http.Client, target string, form url.Values) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", target)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLoginPage))
	return resp.StatusCode, nil
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)
}

// findSID scans an HTML document for <input name="sid" value="...">.
func findSID(r io.Reader) string {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			var isSID bool
			var value string
			for {
				key, val, more := z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "name":
					isSID = string(val) == "sid"
				case "value":
					value = string(val)
				}
				if !more {
					break
				}
			}
			if isSID && value != "" {
				return value
			}
		}
	}
}
