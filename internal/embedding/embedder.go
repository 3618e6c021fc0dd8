package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// Model is the OpenAI model used for generating embeddings. Queries
	// must be embedded with the same model as the indexed chunks or
	// similarity scores are meaningless.
	Model = "text-embedding-3-small"

	// ModelVersion tags stored embeddings so a future model change can be
	// detected instead of silently mixing vector spaces.
	ModelVersion = "v1"

	// Dimension is the vector size for text-embedding-3-small.
	Dimension = 1536

	// DefaultBatchSize keeps each request comfortably under the API's
	// tokens-per-minute limits for legal-length chunks.
	DefaultBatchSize = 100

	// DefaultBatchDelay is the fixed pause between consecutive batches.
	DefaultBatchDelay = 200 * time.Millisecond
)

// Embedder generates embeddings in sequential batches with a fixed
// inter-batch delay. Rate-limit responses (HTTP 429) are retried with
// exponential backoff; every other failure is permanent and propagates to
// the caller, which owns the retry policy.
type Embedder struct {
	client     *Client
	batchSize  int
	batchDelay time.Duration
}

// NewEmbedder creates an Embedder. batchSize <= 0 selects DefaultBatchSize.
func NewEmbedder(client *Client, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		client:     client,
		batchSize:  batchSize,
		batchDelay: DefaultBatchDelay,
	}
}

// EmbedTexts embeds all texts and returns one vector per input, in order.
// The returned count always equals len(texts); a provider returning fewer
// vectors than requested is an error.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		vectors, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("batch %d-%d: got %d vectors for %d texts", i, end, len(vectors), len(batch))
		}
		all = append(all, vectors...)

		// Fixed pause between batches to stay under the API rate limit.
		if end < len(texts) {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return all, nil
}

// EmbedQuery embeds a single query string with the same model used for
// indexing.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.embedBatchWithRetry(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for 1 text", len(vectors))
	}
	return vectors[0], nil
}

// embedBatchWithRetry embeds one batch, retrying only on HTTP 429.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: Model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err) // Don't retry
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32. The API returns float64, but
// vectors are stored as float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
