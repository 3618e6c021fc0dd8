package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexandes/jurisrag/internal/chunk"
	"github.com/lexandes/jurisrag/internal/embedding"
	"github.com/lexandes/jurisrag/internal/storage"
)

type fakeDocStore struct {
	docs      map[string]*storage.Document
	pending   []string
	statuses  map[string][]storage.ProcessingStatus
	failedMsg map[string]string
}

func newFakeDocStore(docs ...*storage.Document) *fakeDocStore {
	s := &fakeDocStore{
		docs:      map[string]*storage.Document{},
		statuses:  map[string][]storage.ProcessingStatus{},
		failedMsg: map[string]string{},
	}
	for _, d := range docs {
		s.docs[d.ID] = d
		s.pending = append(s.pending, d.ID)
	}
	return s
}

func (s *fakeDocStore) GetDocument(_ context.Context, id string) (*storage.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *fakeDocStore) UpdateDocumentStatus(_ context.Context, id string, status storage.ProcessingStatus) error {
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fakeDocStore) MarkDocumentCompleted(_ context.Context, id string, _ time.Time) error {
	s.statuses[id] = append(s.statuses[id], storage.StatusCompleted)
	return nil
}

func (s *fakeDocStore) MarkDocumentFailed(_ context.Context, id, reason string) error {
	s.statuses[id] = append(s.statuses[id], storage.StatusFailed)
	s.failedMsg[id] = reason
	return nil
}

func (s *fakeDocStore) ListPendingDocuments(_ context.Context, _ string) ([]string, error) {
	return s.pending, nil
}

// fixedEmbedder returns one deterministic vector per input text. A non-zero
// short count makes it return fewer vectors than requested.
type fixedEmbedder struct {
	short int
	calls int
}

func (e *fixedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	n := len(texts) - e.short
	vectors := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		v := make([]float32, storage.VectorDimension)
		v[0] = float32(i + 1)
		vectors = append(vectors, v)
	}
	return vectors, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("openai: rate limited")
}

// recordingWriter keeps only the latest replacement set per document,
// mirroring replace semantics.
type recordingWriter struct {
	sets   map[string][]storage.Embedding
	writes int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{sets: map[string][]storage.Embedding{}}
}

func (w *recordingWriter) ReplaceEmbeddings(_ context.Context, documentID string, embeddings []storage.Embedding) error {
	w.writes++
	w.sets[documentID] = embeddings
	return nil
}

func sectionText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("considerando%03d", i)
	}
	return strings.Join(parts, " ")
}

func testDocument(id string) *storage.Document {
	return &storage.Document{
		ID:         id,
		TenantID:   "t1",
		Title:      "Sentencia 45/2021",
		Court:      "Corte Suprema",
		Expediente: "EXP-45-2021",
		Year:       2021,
		Status:     storage.StatusPending,
		Sections: []storage.Section{
			{StructureType: "FUNDAMENTOS", Name: "Fundamentos de Derecho", Text: sectionText(400), StartPage: 3, EndPage: 7},
			{StructureType: "FALLO", Name: "Fallo", Text: sectionText(60), StartPage: 8, EndPage: 8},
		},
	}
}

func TestProcessDocument_IndexesAllSections(t *testing.T) {
	doc := testDocument("doc-1")
	store := newFakeDocStore(doc)
	writer := newRecordingWriter()
	secondary := newRecordingWriter()
	pipeline := NewPipeline(store, chunk.New(), &fixedEmbedder{}, slog.Default(), writer, secondary)

	chunks, err := pipeline.ProcessDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Greater(t, chunks, 1)

	// EMBEDDING while in flight, COMPLETED at the end.
	assert.Equal(t, []storage.ProcessingStatus{storage.StatusEmbedding, storage.StatusCompleted}, store.statuses["doc-1"])

	records := writer.sets["doc-1"]
	require.Len(t, records, chunks)
	for i, r := range records {
		assert.Equal(t, i, r.ChunkIndex)
		assert.Equal(t, "doc-1", r.DocumentID)
		assert.Equal(t, "t1", r.TenantID)
		assert.Equal(t, embedding.Model, r.Model)
		assert.Equal(t, embedding.ModelVersion, r.Version)
		assert.Equal(t, "Sentencia 45/2021", r.Title)
		assert.Equal(t, "Corte Suprema", r.Metadata.Court)
		assert.Len(t, r.Vector, storage.VectorDimension)
		assert.NotEmpty(t, r.ID)
	}

	// Section metadata is carried through to the stored records.
	assert.Equal(t, "Fundamentos de Derecho", records[0].Metadata.Section)
	last := records[len(records)-1]
	assert.Equal(t, "Fallo", last.Metadata.Section)
	assert.Equal(t, []int{8}, last.Metadata.PageNumbers)

	// Every writer receives the same replacement set.
	assert.Equal(t, writer.sets["doc-1"], secondary.sets["doc-1"])
}

func TestProcessDocument_ReindexReplacesPreviousSet(t *testing.T) {
	doc := testDocument("doc-1")
	store := newFakeDocStore(doc)
	writer := newRecordingWriter()
	pipeline := NewPipeline(store, chunk.New(), &fixedEmbedder{}, slog.Default(), writer)

	first, err := pipeline.ProcessDocument(context.Background(), "doc-1")
	require.NoError(t, err)

	// Same document, shorter text: the old set must be fully superseded.
	doc.Sections = doc.Sections[1:]
	second, err := pipeline.ProcessDocument(context.Background(), "doc-1")
	require.NoError(t, err)

	assert.Less(t, second, first)
	assert.Len(t, writer.sets["doc-1"], second)
	assert.Equal(t, 2, writer.writes)
}

func TestProcessDocument_CountMismatchMarksFailed(t *testing.T) {
	doc := testDocument("doc-1")
	store := newFakeDocStore(doc)
	writer := newRecordingWriter()
	pipeline := NewPipeline(store, chunk.New(), &fixedEmbedder{short: 1}, slog.Default(), writer)

	_, err := pipeline.ProcessDocument(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match embedding count")

	assert.Equal(t, []storage.ProcessingStatus{storage.StatusEmbedding, storage.StatusFailed}, store.statuses["doc-1"])
	assert.Contains(t, store.failedMsg["doc-1"], "does not match")

	// Nothing was written: the previous embedding set stays intact.
	assert.Zero(t, writer.writes)
}

func TestProcessDocument_EmbedderErrorMarksFailed(t *testing.T) {
	store := newFakeDocStore(testDocument("doc-1"))
	pipeline := NewPipeline(store, chunk.New(), failingEmbedder{}, slog.Default(), newRecordingWriter())

	_, err := pipeline.ProcessDocument(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, []storage.ProcessingStatus{storage.StatusEmbedding, storage.StatusFailed}, store.statuses["doc-1"])
}

func TestProcessDocument_NoTextIsSkipped(t *testing.T) {
	doc := &storage.Document{
		ID:       "doc-empty",
		TenantID: "t1",
		Status:   storage.StatusPending,
		Pages:    []storage.Page{{PageNumber: 1, RawText: "   ", HasText: true}},
	}
	store := newFakeDocStore(doc)
	writer := newRecordingWriter()
	pipeline := NewPipeline(store, chunk.New(), &fixedEmbedder{}, slog.Default(), writer)

	chunks, err := pipeline.ProcessDocument(context.Background(), "doc-empty")
	require.NoError(t, err)
	assert.Zero(t, chunks)
	assert.Empty(t, store.statuses["doc-empty"])
	assert.Zero(t, writer.writes)
}

func TestProcessDocument_PagesFallback(t *testing.T) {
	doc := &storage.Document{
		ID:       "doc-pages",
		TenantID: "t1",
		Title:    "Auto 9/2020",
		Status:   storage.StatusPending,
		Pages: []storage.Page{
			{PageNumber: 1, RawText: sectionText(50), HasText: true},
			{PageNumber: 2, RawText: "", HasText: false},
			{PageNumber: 3, RawText: sectionText(40), HasText: true},
		},
	}
	store := newFakeDocStore(doc)
	writer := newRecordingWriter()
	pipeline := NewPipeline(store, chunk.New(), &fixedEmbedder{}, slog.Default(), writer)

	chunks, err := pipeline.ProcessDocument(context.Background(), "doc-pages")
	require.NoError(t, err)
	require.Greater(t, chunks, 0)

	records := writer.sets["doc-pages"]
	assert.Equal(t, []int{1}, records[0].Metadata.PageNumbers)
	assert.Equal(t, "OTROS", records[0].Metadata.StructureType)
}

func TestProcessPending_ContinuesPastFailures(t *testing.T) {
	good := testDocument("doc-good")
	bad := testDocument("doc-bad")
	store := newFakeDocStore(good, bad)

	// The second document's embedding calls fail.
	embedder := &switchingEmbedder{good: &fixedEmbedder{}, failAfter: 1}
	pipeline := NewPipeline(store, chunk.New(), embedder, slog.Default(), newRecordingWriter())

	result, err := pipeline.ProcessPending(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalDocs)
	assert.Equal(t, 1, result.SuccessfulDocs)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, "doc-bad", result.FailedDocs[0].DocumentID)
	assert.Greater(t, result.TotalChunks, 0)
}

type switchingEmbedder struct {
	good      *fixedEmbedder
	failAfter int
	calls     int
}

func (e *switchingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls > e.failAfter {
		return nil, errors.New("openai: service unavailable")
	}
	return e.good.EmbedTexts(ctx, texts)
}
