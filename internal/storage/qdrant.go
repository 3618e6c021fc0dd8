package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/lexandes/jurisrag/internal/chunk"
)

// QdrantCollection is the single collection holding all chunk vectors.
const QdrantCollection = "jurisprudence_chunks"

// QdrantIndex is the dedicated vector index backend. It replaces the
// linear-scan search once corpus size demands it, preserving the same
// threshold and top-K semantics.
type QdrantIndex struct {
	client *qdrant.Client
	host   string
	port   int
}

// NewQdrantIndex creates a Qdrant client and verifies the server is
// reachable, retrying with exponential backoff before failing fast.
func NewQdrantIndex(host string, port int) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &QdrantIndex{
		client: client,
		host:   host,
		port:   port,
	}

	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return idx, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return q.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the chunk collection (1536-dim cosine vectors)
// and its payload indexes if missing. Idempotent.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == QdrantCollection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: QdrantCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(VectorDimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return q.createPayloadIndexes(ctx)
}

// createPayloadIndexes indexes the fields every search filters on.
func (q *QdrantIndex) createPayloadIndexes(ctx context.Context) error {
	keyword := []string{"tenant_id", "document_id", "court", "index_run"}
	for _, field := range keyword {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: QdrantCollection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: QdrantCollection,
		FieldName:      "year",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field year: %w", err)
	}
	return nil
}

// ReplaceEmbeddings swaps a document's vectors for a fresh set. New points
// are upserted under a new run id first, then stale runs are deleted, so a
// concurrent reader never observes a partially deleted set.
func (q *QdrantIndex) ReplaceEmbeddings(ctx context.Context, documentID string, embeddings []Embedding) error {
	runID := uuid.New().String()

	for i, e := range embeddings {
		if len(e.Vector) != VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), VectorDimension)
		}
	}

	batchSize := 100
	for i := 0; i < len(embeddings); i += batchSize {
		end := min(i+batchSize, len(embeddings))
		batch := embeddings[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, e := range batch {
			pages := make([]any, len(e.Metadata.PageNumbers))
			for k, p := range e.Metadata.PageNumbers {
				pages[k] = p
			}
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(e.ID),
				Vectors: qdrant.NewVectors(e.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id":     e.DocumentID,
					"tenant_id":       e.TenantID,
					"chunk_index":     e.ChunkIndex,
					"chunk_text":      e.ChunkText,
					"model":           e.Model,
					"version":         e.Version,
					"title":           e.Title,
					"court":           e.Metadata.Court,
					"expediente":      e.Metadata.Expediente,
					"year":            e.Metadata.Year,
					"structure_type":  e.Metadata.StructureType,
					"section":         e.Metadata.Section,
					"page_numbers":    pages,
					"paragraph_index": e.Metadata.ParagraphIndex,
					"publish_date":    e.Metadata.PublishDate.UTC().Format(time.RFC3339),
					"index_run":       runID,
				}),
			}
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	// Delete everything for this document that predates the current run.
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: QdrantCollection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
			MustNot: []*qdrant.Condition{
				qdrant.NewMatch("index_run", runID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete stale embeddings: %w", err)
	}
	return nil
}

// upsertWithRetry performs an upsert with exponential backoff retry.
func (q *QdrantIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: QdrantCollection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Search runs a filtered vector query and returns matches above minScore,
// best first, at most topK. Same contract as the linear scanner.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, filters SearchFilters, topK int, minScore float64) ([]Match, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), VectorDimension)
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", filters.TenantID),
	}
	if len(filters.Courts) > 0 {
		must = append(must, qdrant.NewMatchKeywords("court", filters.Courts...))
	}
	if filters.MinYear > 0 {
		minYear := float64(filters.MinYear)
		must = append(must, qdrant.NewRange("year", &qdrant.Range{Gte: &minYear}))
	}

	threshold := float32(minScore)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: QdrantCollection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint64(topK)),
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload

		var pages []int
		if list := payload["page_numbers"].GetListValue(); list != nil {
			for _, v := range list.Values {
				pages = append(pages, int(v.GetIntegerValue()))
			}
		}
		publishDate, _ := time.Parse(time.RFC3339, payload["publish_date"].GetStringValue())

		m := Match{Similarity: float64(result.Score)}
		m.ID = result.Id.GetUuid()
		m.DocumentID = payload["document_id"].GetStringValue()
		m.Embedding.TenantID = payload["tenant_id"].GetStringValue()
		m.ChunkIndex = int(payload["chunk_index"].GetIntegerValue())
		m.ChunkText = payload["chunk_text"].GetStringValue()
		m.Model = payload["model"].GetStringValue()
		m.Version = payload["version"].GetStringValue()
		m.Title = payload["title"].GetStringValue()
		m.Metadata = chunk.Metadata{
			StructureType:  payload["structure_type"].GetStringValue(),
			Section:        payload["section"].GetStringValue(),
			PageNumbers:    pages,
			ParagraphIndex: int(payload["paragraph_index"].GetIntegerValue()),
			Court:          payload["court"].GetStringValue(),
			Expediente:     payload["expediente"].GetStringValue(),
			Year:           int(payload["year"].GetIntegerValue()),
			PublishDate:    publishDate,
		}
		m.Document = Document{
			ID:         m.DocumentID,
			TenantID:   m.Embedding.TenantID,
			Title:      payload["title"].GetStringValue(),
			Court:      m.Metadata.Court,
			Expediente: m.Metadata.Expediente,
			Year:       m.Metadata.Year,
			Status:     StatusCompleted,
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// ClearCollection drops and recreates the chunk collection.
func (q *QdrantIndex) ClearCollection(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, QdrantCollection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return q.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
