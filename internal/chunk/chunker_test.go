package chunk

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestSplit_Empty verifies that empty and whitespace-only input yields no chunks.
func TestSplit_Empty(t *testing.T) {
	c := New()

	if got := c.Split(""); len(got) != 0 {
		t.Errorf("Expected 0 chunks for empty input, got %d", len(got))
	}
	if got := c.Split("   \n\t  "); len(got) != 0 {
		t.Errorf("Expected 0 chunks for whitespace input, got %d", len(got))
	}
}

// TestSplit_ShortText verifies text under the size budget becomes a single chunk.
func TestSplit_ShortText(t *testing.T) {
	c := New()

	chunks := c.Split("el plazo de prescripción es de seis años")
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "el plazo de prescripción es de seis años" {
		t.Errorf("Chunk text mangled: %q", chunks[0])
	}
}

// TestSplit_OversizedWord verifies a single word longer than the chunk size
// is emitted whole, never split mid-word.
func TestSplit_OversizedWord(t *testing.T) {
	c := New(WithChunkSize(50), WithOverlap(10))

	word := strings.Repeat("x", 200)
	chunks := c.Split(word)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != word {
		t.Errorf("Oversized word was altered")
	}
}

// TestSplit_OverlapSeeding verifies each chunk after the first starts with a
// word suffix of the previous chunk, and that the repeated prefix stays
// within the overlap budget.
func TestSplit_OverlapSeeding(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(30))

	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("palabra%03d", i)
	}
	chunks := c.Split(strings.Join(words, " "))

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		curWords := strings.Fields(chunks[i])

		// Find how many leading words of the current chunk repeat the tail
		// of the previous chunk.
		overlapLen := 0
		for n := len(curWords); n > 0; n-- {
			if n > len(prevWords) {
				continue
			}
			tail := strings.Join(prevWords[len(prevWords)-n:], " ")
			head := strings.Join(curWords[:n], " ")
			if tail == head {
				overlapLen = len(head)
				break
			}
		}

		if overlapLen == 0 {
			t.Errorf("Chunk %d does not start with a suffix of chunk %d", i, i-1)
		}
		if overlapLen > 30 {
			t.Errorf("Chunk %d overlap %d chars exceeds budget 30", i, overlapLen)
		}
	}
}

// TestSplit_Coverage verifies the full word sequence survives chunking once
// overlap duplication at boundaries is accounted for.
func TestSplit_Coverage(t *testing.T) {
	c := New(WithChunkSize(80), WithOverlap(20))

	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
	}
	original := strings.Join(words, " ")
	chunks := c.Split(original)

	// Reassemble: drop each chunk's overlap prefix (suffix of prior chunk).
	var rebuilt []string
	for i, chunk := range chunks {
		cur := strings.Fields(chunk)
		if i == 0 {
			rebuilt = append(rebuilt, cur...)
			continue
		}
		prev := strings.Fields(chunks[i-1])
		skip := 0
		for n := len(cur); n > 0; n-- {
			if n > len(prev) {
				continue
			}
			if strings.Join(prev[len(prev)-n:], " ") == strings.Join(cur[:n], " ") {
				skip = n
				break
			}
		}
		rebuilt = append(rebuilt, cur[skip:]...)
	}

	if got := strings.Join(rebuilt, " "); got != original {
		t.Errorf("Reassembled text differs from original:\nwant %d words\ngot  %d words", len(words), len(strings.Fields(got)))
	}
}

// TestSplitWithMetadata verifies metadata inheritance and paragraph indexing.
func TestSplitWithMetadata(t *testing.T) {
	c := New(WithChunkSize(60), WithOverlap(15))

	meta := Metadata{
		StructureType: "FUNDAMENTOS",
		Section:       "Fundamentos de Derecho",
		PageNumbers:   []int{3, 4, 5},
		Court:         "Corte Suprema",
		Expediente:    "1234-2020-Lima",
		Year:          2020,
		PublishDate:   time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	text := strings.Repeat("considerando que el recurso resulta fundado ", 10)
	chunks := c.SplitWithMetadata(text, meta)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if ch.Metadata.ParagraphIndex != i {
			t.Errorf("Chunk %d: ParagraphIndex = %d", i, ch.Metadata.ParagraphIndex)
		}
		if ch.Metadata.Section != meta.Section || ch.Metadata.Court != meta.Court {
			t.Errorf("Chunk %d lost structural metadata", i)
		}
		if ch.Metadata.Year != 2020 {
			t.Errorf("Chunk %d: Year = %d", i, ch.Metadata.Year)
		}
	}
}

// TestPageRange verifies inclusive page range expansion.
func TestPageRange(t *testing.T) {
	got := PageRange(3, 6)
	want := []int{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("PageRange(3,6) = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PageRange(3,6)[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if got := PageRange(5, 5); len(got) != 1 || got[0] != 5 {
		t.Errorf("PageRange(5,5) = %v", got)
	}
	if got := PageRange(6, 3); got != nil {
		t.Errorf("PageRange(6,3) = %v, want nil", got)
	}
}
