package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/i18n"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rcourtman/zbxreport/pkg/zabbix"
)

const maxLoginBody = 16 << 10

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// requestLang picks the response language for req: the session's language
// when logged in, otherwise Accept-Language.
func (r *Router) requestLang(req *http.Request, session *SessionData) string {
	if session != nil && session.Lang != "" {
		return session.Lang
	}
	return i18n.Negotiate(req.Header.Get("Accept-Language"), r.config.DefaultLanguage)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	lang := r.requestLang(req, nil)
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", i18n.Text(lang, i18n.MsgMethodNotAllowed))
		return
	}

	creds, err := decodeLogin(w, req)
	if err != nil || creds.User == "" || creds.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", i18n.Text(lang, i18n.MsgBadRequestBody))
		return
	}

	logger := logging.FromContext(req.Context())
	ctx, cancel := context.WithTimeout(req.Context(), r.config.LoginTimeout)
	defer cancel()

	client, err := r.deps.NewAPI(ctx, creds.User, creds.Password)
	if err != nil {
		var apiErr *zabbix.APIError
		if errors.As(err, &apiErr) {
			logger.Info().Str("user", creds.User).Str("ip", clientIP(req)).Msg("Rejected login")
			writeErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", i18n.Text(lang, i18n.MsgInvalidCredentials))
			return
		}
		logger.Error().Err(err).Str("user", creds.User).Msg("Monitoring API login failed")
		writeErrorResponse(w, http.StatusBadGateway, "upstream_error", i18n.Text(lang, i18n.MsgUpstreamListing))
		return
	}

	// A new login replaces whatever session the browser held
	if token, previous := r.currentSession(req); previous != nil {
		r.sessions.DeleteSession(token)
		r.endSession(previous)
	}

	token, err := r.sessions.CreateSession(&SessionData{
		UserAgent:   req.UserAgent(),
		IP:          clientIP(req),
		Lang:        lang,
		Credentials: websession.Credentials{User: creds.User, Password: creds.Password},
		API:         client,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create session")
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", i18n.Text(lang, string(reporterrors.KindInternal)))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(r.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	logger.Info().
		Str("user", creds.User).
		Str("session", safePrefixForLog(sessionHash(token), 8)).
		Msg("User logged in")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": creds.User, "lang": lang})
}

func decodeLogin(w http.ResponseWriter, req *http.Request) (loginRequest, error) {
	var creds loginRequest
	req.Body = http.MaxBytesReader(w, req.Body, maxLoginBody)
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
			return creds, err
		}
	} else {
		if err := req.ParseForm(); err != nil {
			return creds, err
		}
		creds.User = req.PostForm.Get("user")
		creds.Password = req.PostForm.Get("password")
	}
	creds.User = strings.TrimSpace(creds.User)
	return creds, nil
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	token, session := r.currentSession(req)
	lang := r.requestLang(req, session)
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", i18n.Text(lang, i18n.MsgMethodNotAllowed))
		return
	}

	if session != nil {
		r.sessions.DeleteSession(token)
		r.endSession(session)
		logger := logging.FromContext(req.Context())
		logger.Info().
			Str("user", session.Credentials.User).
			Msg("User logged out")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCSRF issues the single-use token required by /generate.
func (r *Router) handleCSRF(w http.ResponseWriter, req *http.Request) {
	_, session := r.currentSession(req)
	lang := r.requestLang(req, session)
	if req.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", i18n.Text(lang, i18n.MsgMethodNotAllowed))
		return
	}
	if session == nil {
		writeErrorResponse(w, http.StatusForbidden, "login_required", i18n.Text(lang, i18n.MsgLoginRequired))
		return
	}

	token := r.csrf.GenerateCSRFToken(session.WebSessionID)
	if token == "" {
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", i18n.Text(lang, string(reporterrors.KindInternal)))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
