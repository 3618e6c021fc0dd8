package storage

import (
	"time"

	"github.com/lexandes/jurisrag/internal/chunk"
)

// ProcessingStatus tracks a document through the indexing lifecycle.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "PENDING"
	StatusEmbedding ProcessingStatus = "EMBEDDING"
	StatusCompleted ProcessingStatus = "COMPLETED"
	StatusFailed    ProcessingStatus = "FAILED"
)

// Confidence labels the reliability of a synthesized answer.
type Confidence string

const (
	ConfidenceAlta          Confidence = "ALTA"
	ConfidenceMedia         Confidence = "MEDIA"
	ConfidenceBaja          Confidence = "BAJA"
	ConfidenceNoConcluyente Confidence = "NO_CONCLUYENTE"
)

// Document is a court ruling with its extracted pages and sections.
type Document struct {
	ID           string
	TenantID     string
	Title        string
	Court        string
	Expediente   string
	Year         int
	PublishDate  time.Time
	Status       ProcessingStatus
	FailedReason string
	RetryCount   int
	ProcessedAt  *time.Time
	DeletedAt    *time.Time
	CreatedAt    time.Time
	Pages        []Page
	Sections     []Section
}

// Page holds the raw text extracted from one page of a ruling. The json
// tags match the extraction service's output format.
type Page struct {
	PageNumber int    `json:"pageNumber"`
	RawText    string `json:"rawText"`
	HasText    bool   `json:"hasText"`
}

// Section is a structural unit of a ruling (antecedentes, fundamentos, fallo...).
type Section struct {
	StructureType string `json:"structureType"`
	Name          string `json:"name"`
	Text          string `json:"text"`
	StartPage     int    `json:"startPage"`
	EndPage       int    `json:"endPage"`
}

// Embedding is one persisted chunk vector. The full set for a document is
// always replaced atomically, never patched.
type Embedding struct {
	ID         string
	DocumentID string
	TenantID   string
	ChunkIndex int
	ChunkText  string
	Vector     []float32
	Model      string
	Version    string
	Metadata   chunk.Metadata
	// Title is the owning document's title, denormalized so the vector
	// index payload can serve sources without a join.
	Title string
}

// Candidate joins an embedding with the document fields the searcher
// filters on.
type Candidate struct {
	Embedding
	Document Document
}

// SearchFilters scope a similarity search to one tenant plus optional
// document criteria.
type SearchFilters struct {
	TenantID string
	MinYear  int
	Courts   []string
}

// Match is one retrieved candidate with its similarity score attached.
type Match struct {
	Candidate
	Similarity float64
}

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

// DefaultCandidateCap bounds the linear scan until a proper vector index
// takes over.
const DefaultCandidateCap = 500

// Source describes one retrieved chunk as presented to the model and the
// caller. Built fresh per query, stored as data on the query record.
type Source struct {
	SourceTag     string  `json:"sourceTag"`
	DocumentID    string  `json:"documentId"`
	Title         string  `json:"title"`
	Court         string  `json:"court"`
	Expediente    string  `json:"expediente"`
	Year          int     `json:"year"`
	Section       string  `json:"section"`
	PageNumbers   []int   `json:"pageNumbers"`
	Excerpt       string  `json:"excerpt"`
	Similarity    float64 `json:"similarity"`
	CitedInAnswer bool    `json:"citedInAnswer"`
}

// QueryRecord is the immutable audit record of one RAG query. Only the
// feedback fields may be patched afterwards, append-only.
type QueryRecord struct {
	ID                string
	TenantID          string
	UserID            string
	MatterID          string
	Query             string
	Answer            string
	Confidence        Confidence
	HasValidCitations bool
	NeedsHumanReview  bool
	Sources           []Source
	TokensUsed        int
	CostUsd           float64
	ResponseTimeMs    int64
	CreatedAt         time.Time
	Feedback          *Feedback
}

// Feedback is the user's later assessment of an answer.
type Feedback struct {
	Helpful          bool   `json:"helpful"`
	CitationsCorrect bool   `json:"citationsCorrect"`
	Notes            string `json:"notes,omitempty"`
}

// TenantConfig gates and scopes RAG for one tenant.
type TenantConfig struct {
	TenantID      string
	RAGEnabled    bool
	CourtsEnabled []string
	MinYear       int
}
