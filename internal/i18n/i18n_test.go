package i18n

import (
	"errors"
	"testing"

	reporterrors "github.com/rcourtman/zbxreport/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		header   string
		fallback string
		want     string
	}{
		{"", "es", Spanish},
		{"", "en", English},
		{"en-US,en;q=0.9", "es", English},
		{"es-CL,es;q=0.9,en;q=0.8", "en", Spanish},
		{"fr-FR,en;q=0.5", "es", English},
		{"de", "en", English},
		{"de", "", Spanish},
		{"!!", "en", English},
	}
	for _, tt := range tests {
		t.Run(tt.header+"/"+tt.fallback, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.header, tt.fallback))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Spanish, Normalize(""))
	assert.Equal(t, English, Normalize("EN"))
	assert.Equal(t, Spanish, Normalize("es-AR"))
	assert.Equal(t, Spanish, Normalize("zz-invalid-tag-!"))
}

func TestErrorMessage(t *testing.T) {
	err := reporterrors.New(reporterrors.KindNoGraphsProduced, "fetch_charts", "")
	assert.Equal(t, "No se pudo generar ningún gráfico para la selección.", ErrorMessage(Spanish, err))
	assert.Equal(t, "No graphs could be produced for the selection.", ErrorMessage(English, err))

	// Errors without a kind are reported as internal
	assert.Equal(t, "Internal error while generating the report.", ErrorMessage(English, errors.New("x")))
}

func TestEveryKindHasAMessage(t *testing.T) {
	kinds := []reporterrors.Kind{
		reporterrors.KindInvalidInput,
		reporterrors.KindInvalidSession,
		reporterrors.KindNoHostsFound,
		reporterrors.KindNoGraphsProduced,
		reporterrors.KindWebLoginFailed,
		reporterrors.KindBuild,
		reporterrors.KindUpstream,
		reporterrors.KindInternal,
	}
	for _, kind := range kinds {
		for _, lang := range []string{Spanish, English} {
			msg := Text(lang, string(kind))
			assert.NotEqual(t, string(kind), msg, "missing %s message for %s", lang, kind)
		}
	}
}

func TestLabels(t *testing.T) {
	es := Labels(Spanish)
	assert.Equal(t, "Generado el", es.GeneratedOn)
	assert.Equal(t, "Índice", es.Contents)

	en := Labels(English)
	assert.Equal(t, "Generated on", en.GeneratedOn)
	assert.Equal(t, "Page", en.PageColumn)
}

func TestTextUnknownKey(t *testing.T) {
	assert.Equal(t, "no_such_key", Text(English, "no_such_key"))
}
