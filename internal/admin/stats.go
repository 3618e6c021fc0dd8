// Package admin aggregates query and corpus statistics for operators.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lexandes/jurisrag/internal/storage"
)

// MetricsStore is the read side the aggregations run over.
type MetricsStore interface {
	ListQueryMetrics(ctx context.Context, tenantID string) ([]storage.QueryMetric, error)
	ListCoverage(ctx context.Context, tenantID string) ([]storage.CoverageRow, error)
	ResetDocuments(ctx context.Context, tenantID string, filter storage.ReprocessFilter) (int64, error)
}

// QueryStats summarizes a tenant's query quality and spend.
type QueryStats struct {
	TotalQueries       int                        `json:"totalQueries"`
	ByConfidence       map[storage.Confidence]int `json:"byConfidence"`
	AvgConfidenceScore float64                    `json:"avgConfidenceScore"`
	PctValidCitations  float64                    `json:"pctValidCitations"`
	PctNeedsReview     float64                    `json:"pctNeedsReview"`
	TotalCostUsd       float64                    `json:"totalCostUsd"`
	AvgCostUsd         float64                    `json:"avgCostUsd"`
	ResponseTimeP50Ms  int64                      `json:"responseTimeP50Ms"`
	ResponseTimeP95Ms  int64                      `json:"responseTimeP95Ms"`
}

// CoverageBucket counts documents in one year or court slice.
type CoverageBucket struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
	NoText  int `json:"noText"`
}

// CoverageStats shows how much of the corpus is actually searchable.
type CoverageStats struct {
	TotalDocuments int                       `json:"totalDocuments"`
	Indexed        int                       `json:"indexed"`
	ByYear         map[int]CoverageBucket    `json:"byYear"`
	ByCourt        map[string]CoverageBucket `json:"byCourt"`
}

// Service answers admin queries against the store.
type Service struct {
	store  MetricsStore
	logger *slog.Logger
}

// NewService creates an admin service.
func NewService(store MetricsStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// confidenceScore maps a label onto [0,1] for averaging. NO_CONCLUYENTE and
// unknown labels score zero.
func confidenceScore(c storage.Confidence) float64 {
	switch c {
	case storage.ConfidenceAlta:
		return 1.0
	case storage.ConfidenceMedia:
		return 0.66
	case storage.ConfidenceBaja:
		return 0.33
	default:
		return 0
	}
}

// QueryStats aggregates every recorded query of the tenant.
func (s *Service) QueryStats(ctx context.Context, tenantID string) (*QueryStats, error) {
	metrics, err := s.store.ListQueryMetrics(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading query metrics: %w", err)
	}

	stats := &QueryStats{
		TotalQueries: len(metrics),
		ByConfidence: map[storage.Confidence]int{},
	}
	if len(metrics) == 0 {
		return stats, nil
	}

	var scoreSum float64
	var validCount, reviewCount int
	times := make([]int64, 0, len(metrics))
	for _, m := range metrics {
		stats.ByConfidence[m.Confidence]++
		scoreSum += confidenceScore(m.Confidence)
		if m.HasValidCitations {
			validCount++
		}
		if m.NeedsHumanReview {
			reviewCount++
		}
		stats.TotalCostUsd += m.CostUsd
		times = append(times, m.ResponseTimeMs)
	}

	n := float64(len(metrics))
	stats.AvgConfidenceScore = scoreSum / n
	stats.AvgCostUsd = stats.TotalCostUsd / n
	stats.PctValidCitations = float64(validCount) / n * 100
	stats.PctNeedsReview = float64(reviewCount) / n * 100

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	stats.ResponseTimeP50Ms = times[len(times)*50/100]
	stats.ResponseTimeP95Ms = times[len(times)*95/100]

	return stats, nil
}

// CoverageStats buckets the tenant's documents by year and court.
func (s *Service) CoverageStats(ctx context.Context, tenantID string) (*CoverageStats, error) {
	rows, err := s.store.ListCoverage(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading coverage: %w", err)
	}

	stats := &CoverageStats{
		ByYear:  map[int]CoverageBucket{},
		ByCourt: map[string]CoverageBucket{},
	}
	for _, r := range rows {
		stats.TotalDocuments++
		indexed := r.Status == storage.StatusCompleted && r.HasEmbeddings
		if indexed {
			stats.Indexed++
		}

		year := stats.ByYear[r.Year]
		court := stats.ByCourt[r.Court]
		for _, b := range []*CoverageBucket{&year, &court} {
			b.Total++
			if indexed {
				b.Indexed++
			}
			if r.Status == storage.StatusFailed {
				b.Failed++
			}
			if !r.HasText {
				b.NoText++
			}
		}
		stats.ByYear[r.Year] = year
		stats.ByCourt[r.Court] = court
	}
	return stats, nil
}

// Reprocess resets matching documents to PENDING and returns how many were
// reset. The indexing pipeline picks them up on its next run.
func (s *Service) Reprocess(ctx context.Context, tenantID string, filter storage.ReprocessFilter) (int64, error) {
	count, err := s.store.ResetDocuments(ctx, tenantID, filter)
	if err != nil {
		return 0, fmt.Errorf("resetting documents: %w", err)
	}
	s.logger.Info("documents queued for reprocessing", "tenant", tenantID, "count", count)
	return count, nil
}
