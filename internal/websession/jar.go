package websession

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Cookie names the frontend uses for an authenticated session. Older
// releases used zbx_sessionid.
var sessionCookieNames = []string{"zbx_session", "zbx_sessionid"}

// minStoredJarBytes is the smallest serialized jar worth reusing.
const minStoredJarBytes = 10

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

type storedJar struct {
	Cookies []storedCookie `json:"cookies"`
	SavedAt time.Time      `json:"saved_at"`
}

// encodeJar serializes the cookies jar holds for base.
func encodeJar(jar http.CookieJar, base *url.URL) ([]byte, error) {
	stored := storedJar{SavedAt: time.Now().UTC()}
	for _, c := range jar.Cookies(base) {
		stored.Cookies = append(stored.Cookies, storedCookie{Name: c.Name, Value: c.Value})
	}
	return json.Marshal(stored)
}

// decodeJar rebuilds a jar from encodeJar output.
func decodeJar(data []byte, base *url.URL) (http.CookieJar, error) {
	var stored storedJar
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode stored jar: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	cookies := make([]*http.Cookie, 0, len(stored.Cookies))
	for _, c := range stored.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: base.Path})
	}
	jar.SetCookies(base, cookies)
	return jar, nil
}

// hasSessionCookie reports whether jar carries a recognized session cookie for base.
func hasSessionCookie(jar http.CookieJar, base *url.URL) bool {
	if jar == nil {
		return false
	}
	for _, c := range jar.Cookies(base) {
		for _, name := range sessionCookieNames {
			if c.Name == name && c.Value != "" {
				return true
			}
		}
	}
	return false
}
