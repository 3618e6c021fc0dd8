// Package indexer turns stored documents into persisted chunk embeddings.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexandes/jurisrag/internal/chunk"
	"github.com/lexandes/jurisrag/internal/embedding"
	"github.com/lexandes/jurisrag/internal/storage"
)

// DocumentStore is the persistence surface the pipeline drives.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*storage.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status storage.ProcessingStatus) error
	MarkDocumentCompleted(ctx context.Context, id string, at time.Time) error
	MarkDocumentFailed(ctx context.Context, id, reason string) error
	ListPendingDocuments(ctx context.Context, tenantID string) ([]string, error)
}

// EmbeddingWriter atomically replaces a document's embedding set.
type EmbeddingWriter interface {
	ReplaceEmbeddings(ctx context.Context, documentID string, embeddings []storage.Embedding) error
}

// Embedder produces one vector per input text.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexResult contains statistics about a batch indexing run.
type IndexResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// FailedDoc records a document that failed to index.
type FailedDoc struct {
	DocumentID string
	Reason     string
}

// Pipeline chunks a document, embeds the chunks and replaces the stored
// embedding set. A run either commits fully or leaves the previous set
// intact; a failed run marks the document FAILED and bumps its retry
// counter for whoever schedules retries.
type Pipeline struct {
	docs     DocumentStore
	chunker  *chunk.Chunker
	embedder Embedder
	writers  []EmbeddingWriter
	logger   *slog.Logger
}

// NewPipeline creates an indexing pipeline. Every writer receives the full
// replacement set; the first is the system of record.
func NewPipeline(docs DocumentStore, chunker *chunk.Chunker, embedder Embedder, logger *slog.Logger, writers ...EmbeddingWriter) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:     docs,
		chunker:  chunker,
		embedder: embedder,
		writers:  writers,
		logger:   logger,
	}
}

// ProcessPending indexes every pending document of a tenant, continuing
// past per-document failures. Returns run statistics.
func (p *Pipeline) ProcessPending(ctx context.Context, tenantID string) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	ids, err := p.docs.ListPendingDocuments(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	result.TotalDocs = len(ids)
	p.logger.Info("Starting indexing", "tenant", tenantID, "documents", len(ids))

	for _, id := range ids {
		chunks, err := p.ProcessDocument(ctx, id)
		if err != nil {
			p.logger.Warn("Failed to process document", "document", id, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{
				DocumentID: id,
				Reason:     err.Error(),
			})
			continue // Keep indexing the rest
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)

	return result, nil
}

// ProcessDocument runs the full pipeline for one document and returns the
// number of chunks indexed. A document without extracted text is skipped
// (logged, not an error). Safe to call repeatedly: each successful run
// fully replaces the previous embedding set.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("get document: %w", err)
	}

	if !hasExtractedText(doc) {
		p.logger.Warn("Document has no extracted text, skipping", "document", documentID)
		return 0, nil
	}

	if err := p.docs.UpdateDocumentStatus(ctx, documentID, storage.StatusEmbedding); err != nil {
		return 0, fmt.Errorf("set embedding status: %w", err)
	}

	chunks, err := p.index(ctx, doc)
	if err != nil {
		if markErr := p.docs.MarkDocumentFailed(ctx, documentID, err.Error()); markErr != nil {
			p.logger.Error("Failed to record indexing failure", "document", documentID, "error", markErr)
		}
		return 0, err
	}

	if err := p.docs.MarkDocumentCompleted(ctx, documentID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("mark completed: %w", err)
	}

	p.logger.Info("Indexed document", "document", documentID, "chunks", chunks)
	return chunks, nil
}

// index is the fallible middle of ProcessDocument: chunk, embed, replace.
func (p *Pipeline) index(ctx context.Context, doc *storage.Document) (int, error) {
	chunks := p.buildChunks(doc)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks", doc.ID)
	}
	p.logger.Debug("Chunked document", "document", doc.ID, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("chunk count (%d) does not match embedding count (%d)", len(chunks), len(vectors))
	}

	records := make([]storage.Embedding, len(chunks))
	for i, c := range chunks {
		records[i] = storage.Embedding{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			ChunkIndex: i,
			ChunkText:  c.Text,
			Vector:     vectors[i],
			Model:      embedding.Model,
			Version:    embedding.ModelVersion,
			Metadata:   c.Metadata,
			Title:      doc.Title,
		}
	}

	for _, w := range p.writers {
		if err := w.ReplaceEmbeddings(ctx, doc.ID, records); err != nil {
			return 0, fmt.Errorf("store embeddings: %w", err)
		}
	}

	return len(records), nil
}

// buildChunks prefers structured sections; pages are the fallback when a
// document was never sectioned.
func (p *Pipeline) buildChunks(doc *storage.Document) []chunk.Chunk {
	var chunks []chunk.Chunk

	if len(doc.Sections) > 0 {
		for _, sec := range doc.Sections {
			chunks = append(chunks, p.chunker.SplitWithMetadata(sec.Text, chunk.Metadata{
				StructureType: sec.StructureType,
				Section:       sec.Name,
				PageNumbers:   chunk.PageRange(sec.StartPage, sec.EndPage),
				Court:         doc.Court,
				Expediente:    doc.Expediente,
				Year:          doc.Year,
				PublishDate:   doc.PublishDate,
			})...)
		}
		return chunks
	}

	for _, page := range doc.Pages {
		if !page.HasText || page.RawText == "" {
			continue
		}
		chunks = append(chunks, p.chunker.SplitWithMetadata(page.RawText, chunk.Metadata{
			StructureType: "OTROS",
			Section:       fmt.Sprintf("Página %d", page.PageNumber),
			PageNumbers:   []int{page.PageNumber},
			Court:         doc.Court,
			Expediente:    doc.Expediente,
			Year:          doc.Year,
			PublishDate:   doc.PublishDate,
		})...)
	}
	return chunks
}

func hasExtractedText(doc *storage.Document) bool {
	for _, sec := range doc.Sections {
		if strings.TrimSpace(sec.Text) != "" {
			return true
		}
	}
	for _, page := range doc.Pages {
		if page.HasText && strings.TrimSpace(page.RawText) != "" {
			return true
		}
	}
	return false
}
