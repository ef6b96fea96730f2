package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/internal/i18n"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/report"
	"github.com/rcourtman/zbxreport/internal/selection"
)

const (
	maxGenerateBody = 1 << 20
	csrfField       = "csrf_token"
	csrfHeader      = "X-CSRF-Token"
)

// validFileName matches safe download names
var validFileName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// generateRequest is a decoded /generate body.
type generateRequest struct {
	raw  selection.Raw
	csrf string
}

func (r *Router) handleGenerate(w http.ResponseWriter, req *http.Request) {
	_, session := r.currentSession(req)
	lang := r.requestLang(req, session)
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writePlainError(w, http.StatusMethodNotAllowed, i18n.Text(lang, i18n.MsgMethodNotAllowed))
		return
	}

	if session == nil {
		writePlainError(w, http.StatusForbidden, i18n.ErrorMessage(lang, reporterrors.ErrInvalidSession))
		return
	}

	logger := logging.FromContext(req.Context())

	body, err := decodeGenerate(w, req)
	if err != nil {
		logger.Debug().Err(err).Msg("Unreadable report request body")
		writePlainError(w, http.StatusBadRequest, i18n.Text(lang, i18n.MsgBadRequestBody))
		return
	}
	if !r.csrf.ConsumeCSRFToken(session.WebSessionID, body.csrf) {
		logger.Warn().Str("ip", clientIP(req)).Msg("Rejected report request with invalid CSRF token")
		writePlainError(w, http.StatusForbidden, i18n.Text(lang, i18n.MsgCSRFInvalid))
		return
	}

	job := report.Job{
		Raw:         body.raw,
		API:         session.API,
		SessionID:   session.WebSessionID,
		Credentials: session.Credentials,
		Lang:        lang,
		Labels:      i18n.Labels(lang),
	}

	delivered := false
	err = r.deps.Generator.Generate(req.Context(), job, func(out *report.Output) error {
		delivered = true
		return streamPDF(w, out)
	})
	if err == nil {
		return
	}
	if delivered {
		// Headers are gone; the client sees a truncated download
		logger.Warn().Err(err).Msg("Report delivery interrupted")
		return
	}

	kind := reporterrors.KindOf(err)
	logger.Warn().Err(err).Str("kind", string(kind)).Msg("Report generation failed")
	writePlainError(w, reporterrors.HTTPStatus(kind), i18n.ErrorMessage(lang, err))
}

// decodeGenerate reads a form or JSON report request.
func decodeGenerate(w http.ResponseWriter, req *http.Request) (*generateRequest, error) {
	req.Body = http.MaxBytesReader(w, req.Body, maxGenerateBody)

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	out := &generateRequest{csrf: strings.TrimSpace(req.Header.Get(csrfHeader))}

	switch mediaType {
	case "application/json":
		var body map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		if token, ok := body[csrfField].(string); ok && out.csrf == "" {
			out.csrf = strings.TrimSpace(token)
		}
		delete(body, csrfField)
		out.raw = selection.FromJSON(body)
	case "multipart/form-data":
		if err := req.ParseMultipartForm(maxGenerateBody); err != nil {
			return nil, err
		}
		out.raw = formRequest(req, out)
	default:
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		out.raw = formRequest(req, out)
	}
	return out, nil
}

func formRequest(req *http.Request, out *generateRequest) selection.Raw {
	if out.csrf == "" {
		out.csrf = strings.TrimSpace(req.PostForm.Get(csrfField))
	}
	form := req.PostForm
	form.Del(csrfField)
	return selection.FromForm(form)
}

// streamPDF writes the finished document as a download.
func streamPDF(w http.ResponseWriter, out *report.Output) error {
	f, err := os.Open(out.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := sanitizeFilename(out.FileName)
	if !validFileName.MatchString(name) {
		name = "zabbix_report.pdf"
	}

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	h.Set("Content-Length", strconv.FormatInt(out.Size, 10))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, f)
	return err
}

func sanitizeFilename(s string) string {
	// Remove any characters that could break Content-Disposition header
	s = strings.ReplaceAll(s, "\"", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")

	// Limit length
	if len(s) > 96 {
		s = s[:96]
	}
	return s
}
