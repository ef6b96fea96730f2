// Package i18n holds the user-visible strings in Spanish and English.
package i18n

import (
	"strings"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/rcourtman/zbxreport/pkg/reporting"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Supported languages.
const (
	Spanish = "es"
	English = "en"
)

// Message keys outside the error kinds.
const (
	MsgCSRFInvalid        = "csrf_invalid"
	MsgLoginRequired      = "login_required"
	MsgInvalidCredentials = "invalid_credentials"
	MsgMethodNotAllowed   = "method_not_allowed"
	MsgBadRequestBody     = "bad_request_body"
	MsgUpstreamListing    = "upstream_listing"

	labelTitle       = "label_title"
	labelContents    = "label_contents"
	labelChartColumn = "label_chart_column"
	labelPageColumn  = "label_page_column"
	labelGeneratedOn = "label_generated_on"
	labelCredit      = "label_credit"
	labelPage        = "label_page"
	labelPeriod      = "label_period"
)

var supported = []language.Tag{language.Spanish, language.English}

var matcher = language.NewMatcher(supported)

var catalog = map[string][2]string{ // key -> {es, en}
	string(reporterrors.KindInvalidInput):     {"Parámetros inválidos: seleccione al menos un host, un ítem y un rango de fechas válido.", "Invalid parameters: select at least one host, one item and a valid date range."},
	string(reporterrors.KindInvalidSession):   {"Sesión inválida o expirada.", "Invalid or expired session."},
	string(reporterrors.KindNoHostsFound):     {"No se encontraron hosts para la selección.", "No hosts found for the selection."},
	string(reporterrors.KindNoGraphsProduced): {"No se pudo generar ningún gráfico para la selección.", "No graphs could be produced for the selection."},
	string(reporterrors.KindWebLoginFailed):   {"No fue posible iniciar sesión en la interfaz web de Zabbix.", "Could not sign in to the Zabbix web interface."},
	string(reporterrors.KindBuild):            {"Error al generar el documento PDF.", "Failed to build the PDF document."},
	string(reporterrors.KindUpstream):         {"Error al comunicarse con Zabbix.", "Error communicating with Zabbix."},
	string(reporterrors.KindInternal):         {"Error interno al generar el reporte.", "Internal error while generating the report."},

	MsgCSRFInvalid:        {"Token CSRF inválido o expirado.", "Invalid or expired CSRF token."},
	MsgLoginRequired:      {"Debe iniciar sesión.", "Authentication required."},
	MsgInvalidCredentials: {"Usuario o contraseña incorrectos.", "Invalid user name or password."},
	MsgMethodNotAllowed:   {"Método no permitido.", "Method not allowed."},
	MsgBadRequestBody:     {"Cuerpo de la solicitud inválido.", "Invalid request body."},
	MsgUpstreamListing:    {"No fue posible obtener los datos desde Zabbix.", "Could not fetch data from Zabbix."},

	labelTitle:       {"Reporte de gráficos Zabbix", "Zabbix chart report"},
	labelContents:    {"Índice", "Contents"},
	labelChartColumn: {"Gráfico", "Chart"},
	labelPageColumn:  {"Página", "Page"},
	labelGeneratedOn: {"Generado el", "Generated on"},
	labelCredit:      {"Generado por zbxreport", "Generated by zbxreport"},
	labelPage:        {"Página", "Page"},
	labelPeriod:      {"Periodo", "Period"},
}

func init() {
	for key, texts := range catalog {
		_ = message.SetString(language.Spanish, key, texts[0])
		_ = message.SetString(language.English, key, texts[1])
	}
}

// Normalize maps lang to a supported language, defaulting to Spanish.
func Normalize(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return Spanish
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Spanish
	}
	return baseOf(supported[idx])
}

// Negotiate picks the language for an Accept-Language header value,
// falling back to fallback when nothing matches.
func Negotiate(acceptLanguage, fallback string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Normalize(fallback)
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Normalize(fallback)
	}
	return baseOf(supported[idx])
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

func printer(lang string) *message.Printer {
	return message.NewPrinter(language.Make(Normalize(lang)))
}

// Text returns the message for key in lang. Unknown keys are returned as-is.
func Text(lang, key string) string {
	return printer(lang).Sprintf(key)
}

// ErrorMessage returns the generic user-facing message for err.
func ErrorMessage(lang string, err error) string {
	return Text(lang, string(reporterrors.KindOf(err)))
}

// Labels returns the PDF labels in lang.
func Labels(lang string) reporting.Labels {
	p := printer(lang)
	return reporting.Labels{
		Title:       p.Sprintf(labelTitle),
		Contents:    p.Sprintf(labelContents),
		ChartColumn: p.Sprintf(labelChartColumn),
		PageColumn:  p.Sprintf(labelPageColumn),
		GeneratedOn: p.Sprintf(labelGeneratedOn),
		Credit:      p.Sprintf(labelCredit),
		Page:        p.Sprintf(labelPage),
		Period:      p.Sprintf(labelPeriod),
	}
}
