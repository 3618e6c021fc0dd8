// Package rag orchestrates the query pipeline: gate on tenant config,
// embed the question, retrieve similar chunks, synthesize a cited answer
// and persist the audit record.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexandes/jurisrag/internal/storage"
	"github.com/lexandes/jurisrag/internal/synthesis"
	"github.com/lexandes/jurisrag/internal/validation"
)

// Per-million-token pricing for gpt-4o-mini, used for the cost estimate on
// each query record.
const (
	inputCostPerMillion  = 0.15
	outputCostPerMillion = 0.60
)

// noResultsAnswer is returned verbatim when retrieval comes back empty. The
// chat model is never called in that case.
const noResultsAnswer = "No se encontraron documentos de jurisprudencia relevantes para su consulta. " +
	"Intente reformular la pregunta o ampliar los filtros de búsqueda."

// excerptLimit bounds the source excerpt shown to callers.
const excerptLimit = 300

// ConfigStore looks up per-tenant RAG configuration.
type ConfigStore interface {
	GetConfig(ctx context.Context, tenantID string) (*storage.TenantConfig, error)
}

// QueryEmbedder turns the user's question into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Retriever finds the chunks most similar to the query vector.
type Retriever interface {
	Search(ctx context.Context, vector []float32, filters storage.SearchFilters, topK int) ([]storage.Match, error)
}

// AnswerSynthesizer produces a grounded answer from the retrieved chunks.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, query string, matches []storage.Match) (*synthesis.Result, error)
}

// QueryStore persists query records and their feedback.
type QueryStore interface {
	SaveQuery(ctx context.Context, q *storage.QueryRecord) error
	UpdateFeedback(ctx context.Context, queryID string, fb storage.Feedback) error
	ListQueries(ctx context.Context, tenantID, userID, matterID string, limit int) ([]storage.QueryRecord, error)
	GetQuery(ctx context.Context, id string) (*storage.QueryRecord, error)
}

// Request is one user question scoped to a tenant. Courts and MinYear are
// optional per-query narrows; when unset the tenant config defaults apply.
type Request struct {
	TenantID string
	UserID   string
	MatterID string
	Query    string
	Courts   []string
	MinYear  int
}

// Response is the answer returned to the caller. QueryID references the
// persisted record so feedback can be attached later.
type Response struct {
	QueryID           string             `json:"queryId"`
	Answer            string             `json:"answer"`
	Confidence        storage.Confidence `json:"confidence"`
	HasValidCitations bool               `json:"hasValidCitations"`
	NeedsHumanReview  bool               `json:"needsHumanReview"`
	Sources           []storage.Source   `json:"sources"`
	QueryType         string             `json:"queryType"`
	TokensUsed        int                `json:"tokensUsed"`
	CostUsd           float64            `json:"costUsd"`
	ResponseTimeMs    int64              `json:"responseTimeMs"`
}

// Service runs the full query pipeline.
type Service struct {
	configs     ConfigStore
	embedder    QueryEmbedder
	retriever   Retriever
	synthesizer AnswerSynthesizer
	queries     QueryStore
	validator   *validation.Validator
	logger      *slog.Logger
	topK        int
	now         func() time.Time
}

// NewService wires the pipeline stages together.
func NewService(configs ConfigStore, embedder QueryEmbedder, retriever Retriever, synthesizer AnswerSynthesizer, queries QueryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		configs:     configs,
		embedder:    embedder,
		retriever:   retriever,
		synthesizer: synthesizer,
		queries:     queries,
		validator:   validation.NewValidator(logger),
		logger:      logger,
		topK:        5,
		now:         time.Now,
	}
}

// Query answers one question against the tenant's indexed jurisprudence.
// Every completed query, including the no-results case, is persisted before
// the response is returned.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	cfg, err := s.configs.GetConfig(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant config: %w", err)
	}
	if !cfg.RAGEnabled {
		return nil, fmt.Errorf("jurisprudence search is not enabled for tenant %s", req.TenantID)
	}

	start := s.now()

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	filters := storage.SearchFilters{
		TenantID: req.TenantID,
		MinYear:  cfg.MinYear,
		Courts:   cfg.CourtsEnabled,
	}
	if len(req.Courts) > 0 {
		filters.Courts = req.Courts
	}
	if req.MinYear > 0 {
		filters.MinYear = req.MinYear
	}
	matches, err := s.retriever.Search(ctx, vector, filters, s.topK)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}

	if len(matches) == 0 {
		return s.finishNoResults(ctx, req, start)
	}

	result, err := s.synthesizer.Synthesize(ctx, req.Query, matches)
	if err != nil {
		return nil, fmt.Errorf("synthesizing answer: %w", err)
	}

	confidence, basis := s.validator.Confidence(result.Answer, len(matches))
	validCitations := s.validator.ValidCitations(result.Answer, len(matches))
	needsReview := validation.NeedsHumanReview(confidence, validCitations)

	sources := buildSources(matches)
	validation.MarkCited(sources, result.Answer)

	tokens := result.PromptTokens + result.CompletionTokens
	cost := estimateCost(result.PromptTokens, result.CompletionTokens)
	elapsed := s.now().Sub(start).Milliseconds()

	record := &storage.QueryRecord{
		ID:                uuid.NewString(),
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		MatterID:          req.MatterID,
		Query:             req.Query,
		Answer:            result.Answer,
		Confidence:        confidence,
		HasValidCitations: validCitations,
		NeedsHumanReview:  needsReview,
		Sources:           sources,
		TokensUsed:        tokens,
		CostUsd:           cost,
		ResponseTimeMs:    elapsed,
		CreatedAt:         s.now(),
	}
	if err := s.queries.SaveQuery(ctx, record); err != nil {
		return nil, fmt.Errorf("saving query record: %w", err)
	}

	s.logger.Info("query answered",
		"tenant", req.TenantID,
		"matches", len(matches),
		"confidence", confidence,
		"confidence_basis", basis,
		"valid_citations", validCitations,
		"needs_review", needsReview,
		"tokens", tokens,
		"elapsed_ms", elapsed)

	return &Response{
		QueryID:           record.ID,
		Answer:            record.Answer,
		Confidence:        record.Confidence,
		HasValidCitations: record.HasValidCitations,
		NeedsHumanReview:  record.NeedsHumanReview,
		Sources:           record.Sources,
		QueryType:         detectQueryType(req.Query),
		TokensUsed:        record.TokensUsed,
		CostUsd:           record.CostUsd,
		ResponseTimeMs:    record.ResponseTimeMs,
	}, nil
}

// finishNoResults persists and returns the terminal empty-retrieval
// response without touching the chat model.
func (s *Service) finishNoResults(ctx context.Context, req Request, start time.Time) (*Response, error) {
	elapsed := s.now().Sub(start).Milliseconds()

	record := &storage.QueryRecord{
		ID:                uuid.NewString(),
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		MatterID:          req.MatterID,
		Query:             req.Query,
		Answer:            noResultsAnswer,
		Confidence:        storage.ConfidenceNoConcluyente,
		HasValidCitations: false,
		NeedsHumanReview:  true,
		Sources:           []storage.Source{},
		TokensUsed:        0,
		CostUsd:           0,
		ResponseTimeMs:    elapsed,
		CreatedAt:         s.now(),
	}
	if err := s.queries.SaveQuery(ctx, record); err != nil {
		return nil, fmt.Errorf("saving query record: %w", err)
	}

	s.logger.Info("query returned no results", "tenant", req.TenantID, "elapsed_ms", elapsed)

	return &Response{
		QueryID:          record.ID,
		Answer:           record.Answer,
		Confidence:       record.Confidence,
		NeedsHumanReview: true,
		Sources:          record.Sources,
		QueryType:        "no_results",
		ResponseTimeMs:   elapsed,
	}, nil
}

// History returns the tenant's past queries, optionally narrowed to a user
// or matter, newest first.
func (s *Service) History(ctx context.Context, tenantID, userID, matterID string, limit int) ([]storage.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := s.queries.ListQueries(ctx, tenantID, userID, matterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return records, nil
}

// SaveFeedback attaches a user's assessment to an existing query record.
// The record itself stays immutable; only the feedback field is written.
func (s *Service) SaveFeedback(ctx context.Context, queryID string, fb storage.Feedback) error {
	if err := s.queries.UpdateFeedback(ctx, queryID, fb); err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	s.logger.Info("feedback saved", "query_id", queryID, "helpful", fb.Helpful)
	return nil
}

// buildSources converts ranked matches into caller-facing sources. The
// source tag matches the numbering used in the synthesis context, so the
// model's citations line up with the returned list.
func buildSources(matches []storage.Match) []storage.Source {
	sources := make([]storage.Source, 0, len(matches))
	for i, m := range matches {
		sources = append(sources, storage.Source{
			SourceTag:   fmt.Sprintf("[FUENTE %d]", i+1),
			DocumentID:  m.DocumentID,
			Title:       m.Document.Title,
			Court:       m.Document.Court,
			Expediente:  m.Document.Expediente,
			Year:        m.Document.Year,
			Section:     fmt.Sprintf("%s - %s", m.Metadata.StructureType, m.Metadata.Section),
			PageNumbers: m.Metadata.PageNumbers,
			Excerpt:     excerpt(m.ChunkText),
			Similarity:  m.Similarity,
		})
	}
	return sources
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit]) + "..."
}

func estimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1_000_000*inputCostPerMillion +
		float64(completionTokens)/1_000_000*outputCostPerMillion
}

// detectQueryType gives a rough classification of the question for
// analytics. Matching is keyword-based over the lowercased query.
func detectQueryType(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "plazo") || strings.Contains(q, "prescripción") || strings.Contains(q, "prescripcion"):
		return "plazo"
	case strings.Contains(q, "precedente") || strings.Contains(q, "jurisprudencia"):
		return "precedente"
	case strings.Contains(q, "procedimiento") || strings.Contains(q, "trámite") || strings.Contains(q, "tramite"):
		return "procedimiento"
	default:
		return "general"
	}
}
