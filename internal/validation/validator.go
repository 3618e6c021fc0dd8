// Package validation derives confidence labels and checks citation soundness.
package validation

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/lexandes/jurisrag/internal/storage"
)

var (
	noConcluyenteRe = regexp.MustCompile(`(?i)NO\s+CONCLUYENTE`)
	markerRe        = regexp.MustCompile(`(?i)\[CONFIANZA:\s*(ALTA|MEDIA|BAJA|NO_CONCLUYENTE)\]`)
	citationTagRe   = regexp.MustCompile(`(?i)\[FUENTE\s+(\d+)`)
	// Full citation shape: [FUENTE <n>, pág. <p>] or a page range pág. <p1>-<p2>.
	citationRe = regexp.MustCompile(`(?i)\[FUENTE\s+(\d+),\s*págs?\.\s*\d+(-\d+)?\]`)
)

// ConfidenceBasis records how a confidence label was derived, so the
// heuristic can be tuned or replaced without touching citation checking.
type ConfidenceBasis string

const (
	BasisNoConcluyente  ConfidenceBasis = "no_concluyente_text"
	BasisExplicitMarker ConfidenceBasis = "explicit_marker"
	BasisHeuristic      ConfidenceBasis = "citation_heuristic"
)

// Validator inspects synthesized answers.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Confidence determines the answer's confidence label. Precedence: a
// literal "NO CONCLUYENTE" anywhere in the answer wins; next an explicit
// [CONFIANZA: X] marker is used verbatim; otherwise a citation-count
// heuristic decides.
func (v *Validator) Confidence(answer string, retrieved int) (storage.Confidence, ConfidenceBasis) {
	if noConcluyenteRe.MatchString(answer) {
		return storage.ConfidenceNoConcluyente, BasisNoConcluyente
	}

	if m := markerRe.FindStringSubmatch(answer); m != nil {
		return storage.Confidence(strings.ToUpper(m[1])), BasisExplicitMarker
	}

	// Distinct source indexes, so repeating one citation can't inflate
	// the label.
	cited := map[string]struct{}{}
	for _, m := range citationTagRe.FindAllStringSubmatch(answer, -1) {
		cited[m[1]] = struct{}{}
	}
	citations := len(cited)
	switch {
	case citations >= 3 && retrieved >= 3:
		return storage.ConfidenceAlta, BasisHeuristic
	case citations >= 2 && retrieved >= 2:
		return storage.ConfidenceMedia, BasisHeuristic
	case citations >= 1:
		return storage.ConfidenceBaja, BasisHeuristic
	}
	return storage.ConfidenceNoConcluyente, BasisHeuristic
}

// ValidCitations reports whether the answer carries at least one well-formed
// citation and every cited source index resolves to a retrieved chunk
// (1..retrieved). Zero citations is invalid: the prompt makes them mandatory.
func (v *Validator) ValidCitations(answer string, retrieved int) bool {
	citations := citationRe.FindAllStringSubmatch(answer, -1)
	if len(citations) == 0 {
		v.logger.Warn("answer has no valid citations")
		return false
	}

	for _, c := range citations {
		n, err := strconv.Atoi(c[1])
		if err != nil || n < 1 || n > retrieved {
			v.logger.Warn("citation references unknown source", "citation", c[0])
			return false
		}
	}
	return true
}

// NeedsHumanReview routes an answer to manual audit when confidence is low
// or any citation failed validation. Both conditions always apply,
// independent of each other.
func NeedsHumanReview(confidence storage.Confidence, hasValidCitations bool) bool {
	return confidence == storage.ConfidenceBaja ||
		confidence == storage.ConfidenceNoConcluyente ||
		!hasValidCitations
}

// MarkCited flags each source whose [FUENTE n] tag appears in the answer,
// either bare or followed by a page citation. This drives UI highlighting
// only, not citation validity.
func MarkCited(sources []storage.Source, answer string) {
	for i := range sources {
		tag := strings.TrimSuffix(sources[i].SourceTag, "]")
		sources[i].CitedInAnswer = strings.Contains(answer, tag+"]") ||
			strings.Contains(answer, tag+",")
	}
}
