package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rcourtman/zbxreport/internal/i18n"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/selection"
)

const maxItemsBody = 256 << 10

type hostEntry struct {
	HostID string `json:"hostid"`
	Name   string `json:"name"`
}

type groupEntry struct {
	GroupID string `json:"groupid"`
	Name    string `json:"name"`
}

type templateEntry struct {
	TemplateID string `json:"templateid"`
	Name       string `json:"name"`
}

type itemEntry struct {
	ItemID     string `json:"itemid"`
	Name       string `json:"name"`
	Key        string `json:"key_"`
	TemplateID string `json:"templateid"`
}

type itemsRequest struct {
	TemplateIDs []interface{} `json:"templateids"`
}

// listingSession resolves the session for a listing call, writing the
// method and authentication errors itself.
func (r *Router) listingSession(w http.ResponseWriter, req *http.Request, method string) (*SessionData, bool) {
	_, session := r.currentSession(req)
	lang := r.requestLang(req, session)
	if req.Method != method {
		w.Header().Set("Allow", method)
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", i18n.Text(lang, i18n.MsgMethodNotAllowed))
		return nil, false
	}
	if session == nil || session.API == nil {
		writeErrorResponse(w, http.StatusForbidden, "login_required", i18n.Text(lang, i18n.MsgLoginRequired))
		return nil, false
	}
	return session, true
}

// writeListingFailure reports an upstream failure in the body with a 200
// status so the selection UI can show it inline.
func writeListingFailure(w http.ResponseWriter, req *http.Request, session *SessionData, what string, err error) {
	logger := logging.FromContext(req.Context())
	logger.Warn().Err(err).Str("listing", what).Msg("Listing call failed")
	writeJSON(w, http.StatusOK, map[string]string{"error": i18n.Text(session.Lang, i18n.MsgUpstreamListing)})
}

func (r *Router) listingContext(req *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), r.config.ListingTimeout)
}

// nameMatcher returns a case-insensitive filter for the "match" query
// parameter. A pattern without wildcards matches as a substring.
func nameMatcher(req *http.Request) func(string) bool {
	pattern := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("match")))
	if pattern == "" {
		return func(string) bool { return true }
	}
	if !strings.ContainsAny(pattern, "*?") {
		pattern = "*" + pattern + "*"
	}
	return func(name string) bool {
		return wildcard.Match(pattern, strings.ToLower(name))
	}
}

func (r *Router) handleHosts(w http.ResponseWriter, req *http.Request) {
	session, ok := r.listingSession(w, req, http.MethodGet)
	if !ok {
		return
	}
	ctx, cancel := r.listingContext(req)
	defer cancel()

	hosts, err := session.API.Hosts(ctx)
	if err != nil {
		writeListingFailure(w, req, session, "hosts", err)
		return
	}

	match := nameMatcher(req)
	out := make([]hostEntry, 0, len(hosts))
	for _, h := range hosts {
		name := h.Name
		if name == "" {
			name = h.Host
		}
		if match(name) {
			out = append(out, hostEntry{HostID: h.HostID, Name: name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleHostGroups(w http.ResponseWriter, req *http.Request) {
	session, ok := r.listingSession(w, req, http.MethodGet)
	if !ok {
		return
	}
	ctx, cancel := r.listingContext(req)
	defer cancel()

	groups, err := session.API.HostGroups(ctx)
	if err != nil {
		writeListingFailure(w, req, session, "hostgroups", err)
		return
	}

	match := nameMatcher(req)
	out := make([]groupEntry, 0, len(groups))
	for _, g := range groups {
		if match(g.Name) {
			out = append(out, groupEntry{GroupID: g.GroupID, Name: g.Name})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleTemplates(w http.ResponseWriter, req *http.Request) {
	session, ok := r.listingSession(w, req, http.MethodGet)
	if !ok {
		return
	}
	ctx, cancel := r.listingContext(req)
	defer cancel()

	templates, err := session.API.Templates(ctx)
	if err != nil {
		writeListingFailure(w, req, session, "templates", err)
		return
	}

	out := make([]templateEntry, 0, len(templates))
	for _, t := range templates {
		name := t.Name
		if name == "" {
			name = t.Host
		}
		out = append(out, templateEntry{TemplateID: t.TemplateID, Name: name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleItems(w http.ResponseWriter, req *http.Request) {
	session, ok := r.listingSession(w, req, http.MethodPost)
	if !ok {
		return
	}

	var body itemsRequest
	req.Body = http.MaxBytesReader(w, req.Body, maxItemsBody)
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", i18n.Text(session.Lang, i18n.MsgBadRequestBody))
		return
	}

	// Ids arrive as strings or numbers depending on the caller
	ids := make([]string, 0, len(body.TemplateIDs))
	for _, raw := range body.TemplateIDs {
		id := strings.TrimSpace(jsonScalar(raw))
		if selection.IsDigits(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, []itemEntry{})
		return
	}

	ctx, cancel := r.listingContext(req)
	defer cancel()

	items, err := session.API.ItemsByTemplates(ctx, ids)
	if err != nil {
		writeListingFailure(w, req, session, "items", err)
		return
	}

	out := make([]itemEntry, 0, len(items))
	for _, it := range items {
		out = append(out, itemEntry{ItemID: it.ItemID, Name: it.Name, Key: it.Key, TemplateID: it.TemplateID})
	}
	writeJSON(w, http.StatusOK, out)
}

func jsonScalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t >= 0 && t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
	}
	return ""
}
