// Package search ranks stored chunk embeddings against a query vector.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/lexandes/jurisrag/internal/storage"
)

// DefaultTopK is the number of sources retained for answer synthesis.
const DefaultTopK = 5

// DefaultMinSimilarity is the cosine floor below which a chunk is treated
// as irrelevant.
const DefaultMinSimilarity = 0.70

// CandidateLister provides the tenant's stored embeddings joined with their
// owning document's filter fields.
type CandidateLister interface {
	ListCandidates(ctx context.Context, tenantID string, limit int) ([]storage.Candidate, error)
}

// Searcher is the linear-scan similarity search over stored embeddings.
// It is bounded by a candidate cap pending a dedicated vector index; the
// threshold and top-K contract must be preserved when that swap happens.
type Searcher struct {
	store         CandidateLister
	candidateCap  int
	minSimilarity float64
	logger        *slog.Logger
}

// NewSearcher creates a Searcher. candidateCap <= 0 selects the store
// default; minSimilarity <= 0 selects DefaultMinSimilarity.
func NewSearcher(store CandidateLister, candidateCap int, minSimilarity float64, logger *slog.Logger) *Searcher {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		store:         store,
		candidateCap:  candidateCap,
		minSimilarity: minSimilarity,
		logger:        logger,
	}
}

// Search returns at most topK matches sorted by descending similarity, all
// at or above the minimum threshold. An empty result is valid, not an
// error: it means no relevant documents exist for this query.
func (s *Searcher) Search(ctx context.Context, vector []float32, filters storage.SearchFilters, topK int) ([]storage.Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	candidates, err := s.store.ListCandidates(ctx, filters.TenantID, s.candidateCap)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	mismatched := make(map[string]bool)
	var matches []storage.Match
	for _, c := range candidates {
		if !documentEligible(c.Document, filters) {
			continue
		}

		// Never compute similarity across mismatched vector spaces.
		if len(c.Vector) != len(vector) {
			if !mismatched[c.DocumentID] {
				mismatched[c.DocumentID] = true
				s.logger.Warn("skipping embeddings with mismatched dimensionality",
					"document", c.DocumentID, "stored", len(c.Vector), "query", len(vector))
			}
			continue
		}

		similarity := Cosine(vector, c.Vector)
		if similarity < s.minSimilarity {
			continue
		}
		matches = append(matches, storage.Match{Candidate: c, Similarity: similarity})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	s.logger.Info("similarity search complete",
		"tenant", filters.TenantID,
		"candidates", len(candidates),
		"matches", len(matches),
		"minSimilarity", s.minSimilarity,
	)

	return matches, nil
}

// documentEligible applies the metadata pre-filters: only completed,
// non-deleted documents inside the year and court constraints participate.
func documentEligible(doc storage.Document, filters storage.SearchFilters) bool {
	if doc.Status != storage.StatusCompleted {
		return false
	}
	if doc.DeletedAt != nil {
		return false
	}
	if filters.MinYear > 0 && doc.Year < filters.MinYear {
		return false
	}
	if len(filters.Courts) > 0 {
		found := false
		for _, court := range filters.Courts {
			if doc.Court == court {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Cosine computes the cosine similarity dot(a,b)/(|a|*|b|). The degenerate
// all-zero-vector case is defined as 0 rather than dividing by zero.
// Callers must pass equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
