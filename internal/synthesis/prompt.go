package synthesis

import (
	"fmt"
	"strings"

	"github.com/lexandes/jurisrag/internal/storage"
)

// systemPrompt enforces the citation contract: answers may only draw on the
// supplied context, every claim carries an inline [FUENTE X, pág. Y]
// citation, insufficient evidence is declared "NO CONCLUYENTE", and the
// answer opens with an explicit confidence marker.
const systemPrompt = `Eres un asistente legal especializado en jurisprudencia peruana.

REGLAS ESTRICTAS:
1. Usa SOLO información del contexto proporcionado
2. CITA OBLIGATORIA: Cada afirmación DEBE incluir [FUENTE X, pág. Y] donde X es el número de fuente y Y son las páginas
3. Si la evidencia es insuficiente → Responde "NO CONCLUYENTE: [razón específica]"
4. NO inventes precedentes ni interpretes más allá del texto literal
5. Distingue entre ratio decidendi (fundamento de la decisión) y obiter dicta (comentarios adicionales)
6. Si hay precedentes contradictorios, menciónalos todos con sus citas

FORMATO DE RESPUESTA:
- Respuesta directa y concisa con citas inline después de cada afirmación
- Lista numerada de fuentes consultadas al final
- Nivel de confianza al inicio: [CONFIANZA: ALTA/MEDIA/BAJA/NO_CONCLUYENTE]

EJEMPLO:
[CONFIANZA: ALTA]

Según la Casación N° 1234-2020-Lima, el plazo de prescripción para delitos de robo es de 6 años [FUENTE 1, págs. 5-6]. Este criterio ha sido ratificado en casos posteriores [FUENTE 2, pág. 12].

Fuentes consultadas:
1. Casación N° 1234-2020-Lima (Corte Suprema, 2020)
2. Expediente N° 5678-2021 (Corte Superior de Lima, 2021)`

// BuildContext renders the retrieved chunks as a numbered context block.
// Source numbering follows the similarity-sorted order, so [FUENTE 1] is
// always the best match.
func BuildContext(matches []storage.Match) string {
	blocks := make([]string, 0, len(matches))
	for i, m := range matches {
		pages := make([]string, len(m.Metadata.PageNumbers))
		for j, p := range m.Metadata.PageNumbers {
			pages[j] = fmt.Sprintf("%d", p)
		}

		blocks = append(blocks, fmt.Sprintf(`[FUENTE %d]
Documento: %s
Expediente: %s
Corte: %s
Año: %d
Sección: %s - %s
Páginas: %s

%s`,
			i+1,
			m.Document.Title,
			m.Document.Expediente,
			m.Document.Court,
			m.Document.Year,
			m.Metadata.StructureType,
			m.Metadata.Section,
			strings.Join(pages, ", "),
			m.ChunkText,
		))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
