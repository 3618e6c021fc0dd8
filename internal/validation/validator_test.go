package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexandes/jurisrag/internal/storage"
)

func TestConfidence_NoConcluyenteText(t *testing.T) {
	v := NewValidator(nil)

	// Literal phrase wins over any marker, case-insensitively.
	conf, basis := v.Confidence("[CONFIANZA: ALTA]\n\nno concluyente: falta evidencia", 5)
	assert.Equal(t, storage.ConfidenceNoConcluyente, conf)
	assert.Equal(t, BasisNoConcluyente, basis)
}

func TestConfidence_ExplicitMarker(t *testing.T) {
	v := NewValidator(nil)

	conf, basis := v.Confidence("[CONFIANZA: MEDIA]\n\nSegún la casación... [FUENTE 1, pág. 3]", 5)
	assert.Equal(t, storage.ConfidenceMedia, conf)
	assert.Equal(t, BasisExplicitMarker, basis)

	conf, _ = v.Confidence("[confianza: baja]\n\nRespuesta.", 5)
	assert.Equal(t, storage.ConfidenceBaja, conf)
}

func TestConfidence_Heuristic(t *testing.T) {
	v := NewValidator(nil)

	cases := []struct {
		name      string
		answer    string
		retrieved int
		want      storage.Confidence
	}{
		{
			name:      "three citations three chunks",
			answer:    "A [FUENTE 1, pág. 1]. B [FUENTE 2, pág. 2]. C [FUENTE 3, pág. 3].",
			retrieved: 3,
			want:      storage.ConfidenceAlta,
		},
		{
			name:      "three citations but two chunks",
			answer:    "A [FUENTE 1, pág. 1]. B [FUENTE 2, pág. 2]. C [FUENTE 1, pág. 3].",
			retrieved: 2,
			want:      storage.ConfidenceMedia,
		},
		{
			name:      "one citation",
			answer:    "A [FUENTE 1, pág. 1].",
			retrieved: 5,
			want:      storage.ConfidenceBaja,
		},
		{
			name:      "no citations",
			answer:    "Respuesta sin citas.",
			retrieved: 5,
			want:      storage.ConfidenceNoConcluyente,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conf, basis := v.Confidence(tc.answer, tc.retrieved)
			assert.Equal(t, tc.want, conf)
			assert.Equal(t, BasisHeuristic, basis)
		})
	}
}

func TestValidCitations(t *testing.T) {
	v := NewValidator(nil)

	// Well-formed, in range.
	assert.True(t, v.ValidCitations("Según [FUENTE 1, pág. 5] y [FUENTE 2, págs. 6-7].", 3))

	// Out-of-range index invalidates everything.
	assert.False(t, v.ValidCitations("Según [FUENTE 9, pág. 1].", 5))

	// Index zero is out of range.
	assert.False(t, v.ValidCitations("Según [FUENTE 0, pág. 1].", 5))

	// No citations at all.
	assert.False(t, v.ValidCitations("Respuesta sin ninguna cita.", 5))

	// Malformed page part does not count as a citation.
	assert.False(t, v.ValidCitations("Según [FUENTE 1].", 5))

	// One valid plus one out-of-range is still invalid.
	assert.False(t, v.ValidCitations("A [FUENTE 1, pág. 2]. B [FUENTE 6, pág. 9].", 5))
}

// TestValidCitations_MarkerDoesNotRescue reproduces the malformed-citation
// scenario: a confidence marker never makes out-of-range citations valid.
func TestValidCitations_MarkerDoesNotRescue(t *testing.T) {
	v := NewValidator(nil)
	answer := "[CONFIANZA: ALTA]\n\nSegún el fallo [FUENTE 9, pág. 1]."

	assert.False(t, v.ValidCitations(answer, 5))
	conf, _ := v.Confidence(answer, 5)
	assert.Equal(t, storage.ConfidenceAlta, conf)
}

func TestNeedsHumanReview(t *testing.T) {
	assert.True(t, NeedsHumanReview(storage.ConfidenceBaja, true))
	assert.True(t, NeedsHumanReview(storage.ConfidenceNoConcluyente, true))
	assert.True(t, NeedsHumanReview(storage.ConfidenceAlta, false))
	assert.True(t, NeedsHumanReview(storage.ConfidenceMedia, false))
	assert.False(t, NeedsHumanReview(storage.ConfidenceAlta, true))
	assert.False(t, NeedsHumanReview(storage.ConfidenceMedia, true))
}

func TestMarkCited(t *testing.T) {
	sources := []storage.Source{
		{SourceTag: "[FUENTE 1]"},
		{SourceTag: "[FUENTE 2]"},
		{SourceTag: "[FUENTE 3]"},
	}

	// Both the page-cited form and the bare tag count; "[FUENTE 1," must
	// not match the tag "[FUENTE 2]".
	MarkCited(sources, "Según [FUENTE 1, pág. 5] y la fuente citada en [FUENTE 3].")

	assert.True(t, sources[0].CitedInAnswer)
	assert.False(t, sources[1].CitedInAnswer)
	assert.True(t, sources[2].CitedInAnswer)
}

func TestMarkCited_TagIsNotAPrefixMatch(t *testing.T) {
	sources := []storage.Source{{SourceTag: "[FUENTE 1]"}}

	MarkCited(sources, "La corte lo reitera en [FUENTE 12, pág. 3].")

	assert.False(t, sources[0].CitedInAnswer)
}
