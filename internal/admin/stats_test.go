package admin

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexandes/jurisrag/internal/storage"
)

type fakeStore struct {
	metrics     []storage.QueryMetric
	coverage    []storage.CoverageRow
	resetFilter storage.ReprocessFilter
	resetCount  int64
}

func (f *fakeStore) ListQueryMetrics(context.Context, string) ([]storage.QueryMetric, error) {
	return f.metrics, nil
}

func (f *fakeStore) ListCoverage(context.Context, string) ([]storage.CoverageRow, error) {
	return f.coverage, nil
}

func (f *fakeStore) ResetDocuments(_ context.Context, _ string, filter storage.ReprocessFilter) (int64, error) {
	f.resetFilter = filter
	return f.resetCount, nil
}

func TestQueryStats(t *testing.T) {
	store := &fakeStore{metrics: []storage.QueryMetric{
		{Confidence: storage.ConfidenceAlta, HasValidCitations: true, ResponseTimeMs: 1200, CostUsd: 0.002},
		{Confidence: storage.ConfidenceAlta, HasValidCitations: true, ResponseTimeMs: 900, CostUsd: 0.001},
		{Confidence: storage.ConfidenceMedia, HasValidCitations: true, ResponseTimeMs: 1500, CostUsd: 0.003},
		{Confidence: storage.ConfidenceBaja, HasValidCitations: false, NeedsHumanReview: true, ResponseTimeMs: 800, CostUsd: 0.001},
		{Confidence: storage.ConfidenceNoConcluyente, NeedsHumanReview: true, ResponseTimeMs: 3000, CostUsd: 0},
	}}
	svc := NewService(store, slog.Default())

	stats, err := svc.QueryStats(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalQueries)
	assert.Equal(t, 2, stats.ByConfidence[storage.ConfidenceAlta])
	assert.Equal(t, 1, stats.ByConfidence[storage.ConfidenceMedia])
	assert.Equal(t, 1, stats.ByConfidence[storage.ConfidenceBaja])
	assert.Equal(t, 1, stats.ByConfidence[storage.ConfidenceNoConcluyente])

	// (1 + 1 + 0.66 + 0.33 + 0) / 5
	assert.InDelta(t, 0.598, stats.AvgConfidenceScore, 1e-9)
	assert.InDelta(t, 60.0, stats.PctValidCitations, 1e-9)
	assert.InDelta(t, 40.0, stats.PctNeedsReview, 1e-9)
	assert.InDelta(t, 0.007, stats.TotalCostUsd, 1e-9)
	assert.InDelta(t, 0.0014, stats.AvgCostUsd, 1e-9)

	// Sorted times: 800 900 1200 1500 3000.
	assert.Equal(t, int64(1200), stats.ResponseTimeP50Ms)
	assert.Equal(t, int64(3000), stats.ResponseTimeP95Ms)
}

func TestQueryStats_Empty(t *testing.T) {
	svc := NewService(&fakeStore{}, slog.Default())

	stats, err := svc.QueryStats(context.Background(), "t1")
	require.NoError(t, err)

	assert.Zero(t, stats.TotalQueries)
	assert.Zero(t, stats.AvgConfidenceScore)
	assert.Zero(t, stats.ResponseTimeP95Ms)
}

func TestCoverageStats(t *testing.T) {
	store := &fakeStore{coverage: []storage.CoverageRow{
		{Year: 2021, Court: "Corte Suprema", Status: storage.StatusCompleted, HasText: true, HasEmbeddings: true},
		{Year: 2021, Court: "Corte Suprema", Status: storage.StatusFailed, HasText: true},
		{Year: 2022, Court: "Tribunal Constitucional", Status: storage.StatusCompleted, HasText: true, HasEmbeddings: true},
		// COMPLETED without embeddings does not count as indexed.
		{Year: 2022, Court: "Tribunal Constitucional", Status: storage.StatusCompleted, HasText: true},
		{Year: 2023, Court: "Corte Suprema", Status: storage.StatusPending, HasText: false},
	}}
	svc := NewService(store, slog.Default())

	stats, err := svc.CoverageStats(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalDocuments)
	assert.Equal(t, 2, stats.Indexed)

	y2021 := stats.ByYear[2021]
	assert.Equal(t, 2, y2021.Total)
	assert.Equal(t, 1, y2021.Indexed)
	assert.Equal(t, 1, y2021.Failed)

	y2023 := stats.ByYear[2023]
	assert.Equal(t, 1, y2023.NoText)

	suprema := stats.ByCourt["Corte Suprema"]
	assert.Equal(t, 3, suprema.Total)
	assert.Equal(t, 1, suprema.Indexed)
}

func TestReprocess(t *testing.T) {
	store := &fakeStore{resetCount: 3}
	svc := NewService(store, slog.Default())

	filter := storage.ReprocessFilter{Court: "Corte Suprema", FailedOnly: true}
	count, err := svc.Reprocess(context.Background(), "t1", filter)
	require.NoError(t, err)

	assert.Equal(t, int64(3), count)
	assert.Equal(t, filter, store.resetFilter)
}
