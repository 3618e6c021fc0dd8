package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lexandes/jurisrag/internal/chunk"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	title         TEXT NOT NULL,
	court         TEXT NOT NULL,
	expediente    TEXT NOT NULL,
	year          INTEGER NOT NULL,
	publish_date  TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'PENDING',
	failed_reason TEXT NOT NULL DEFAULT '',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	processed_at  TEXT,
	deleted_at    TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);

CREATE TABLE IF NOT EXISTS pages (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	raw_text    TEXT NOT NULL DEFAULT '',
	has_text    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (document_id, page_number)
);

CREATE TABLE IF NOT EXISTS sections (
	document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	structure_type TEXT NOT NULL,
	name           TEXT NOT NULL,
	text           TEXT NOT NULL,
	start_page     INTEGER NOT NULL,
	end_page       INTEGER NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE TABLE IF NOT EXISTS embeddings (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tenant_id   TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_text  TEXT NOT NULL,
	vector      BLOB NOT NULL,
	model       TEXT NOT NULL,
	version     TEXT NOT NULL,
	metadata    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_tenant ON embeddings(tenant_id);

CREATE TABLE IF NOT EXISTS queries (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	matter_id           TEXT NOT NULL DEFAULT '',
	query               TEXT NOT NULL,
	answer              TEXT NOT NULL,
	confidence          TEXT NOT NULL,
	has_valid_citations INTEGER NOT NULL,
	needs_human_review  INTEGER NOT NULL,
	sources             TEXT NOT NULL,
	tokens_used         INTEGER NOT NULL,
	cost_usd            REAL NOT NULL,
	response_time_ms    INTEGER NOT NULL,
	created_at          TEXT NOT NULL,
	feedback            TEXT
);
CREATE INDEX IF NOT EXISTS idx_queries_tenant ON queries(tenant_id);

CREATE TABLE IF NOT EXISTS tenant_configs (
	tenant_id      TEXT PRIMARY KEY,
	rag_enabled    INTEGER NOT NULL DEFAULT 0,
	courts_enabled TEXT NOT NULL DEFAULT '[]',
	min_year       INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore is the system-of-record for documents, embeddings, query
// records and tenant configuration. Vectors are stored as JSON-encoded
// blobs; a dedicated vector index (Qdrant) can take over search once corpus
// size demands it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. WAL mode keeps concurrent query reads from blocking on an
// indexing run's replace transaction.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateDocument inserts a document together with its pages and sections.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, title, court, expediente, year, publish_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.Title, doc.Court, doc.Expediente, doc.Year,
		doc.PublishDate.UTC().Format(time.RFC3339), string(doc.Status),
		doc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, p := range doc.Pages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pages (document_id, page_number, raw_text, has_text)
			VALUES (?, ?, ?, ?)`,
			doc.ID, p.PageNumber, p.RawText, boolToInt(p.HasText),
		); err != nil {
			return fmt.Errorf("insert page %d: %w", p.PageNumber, err)
		}
	}

	for i, sec := range doc.Sections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sections (document_id, position, structure_type, name, text, start_page, end_page)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, i, sec.StructureType, sec.Name, sec.Text, sec.StartPage, sec.EndPage,
		); err != nil {
			return fmt.Errorf("insert section %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// GetDocument loads a document with its pages (text-bearing first ordered by
// page number) and sections. Returns ErrDocumentNotFound if absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc := &Document{ID: id}
	var publishDate, createdAt string
	var processedAt, deletedAt sql.NullString
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, title, court, expediente, year, publish_date, status,
		       failed_reason, retry_count, processed_at, deleted_at, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&doc.TenantID, &doc.Title, &doc.Court, &doc.Expediente, &doc.Year,
		&publishDate, &status, &doc.FailedReason, &doc.RetryCount,
		&processedAt, &deletedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}

	doc.Status = ProcessingStatus(status)
	doc.PublishDate, _ = time.Parse(time.RFC3339, publishDate)
	doc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	doc.ProcessedAt = parseNullTime(processedAt)
	doc.DeletedAt = parseNullTime(deletedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT page_number, raw_text, has_text FROM pages
		WHERE document_id = ? ORDER BY page_number ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Page
		var hasText int
		if err := rows.Scan(&p.PageNumber, &p.RawText, &hasText); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.HasText = hasText != 0
		doc.Pages = append(doc.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	secRows, err := s.db.QueryContext(ctx, `
		SELECT structure_type, name, text, start_page, end_page FROM sections
		WHERE document_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("select sections: %w", err)
	}
	defer secRows.Close()
	for secRows.Next() {
		var sec Section
		if err := secRows.Scan(&sec.StructureType, &sec.Name, &sec.Text, &sec.StartPage, &sec.EndPage); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		doc.Sections = append(doc.Sections, sec)
	}
	if err := secRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}

	return doc, nil
}

// UpdateDocumentStatus sets the processing status of a document.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status ProcessingStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(res)
}

// MarkDocumentCompleted sets COMPLETED status, the processed timestamp, and
// clears any previous failure reason.
func (s *SQLiteStore) MarkDocumentCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, processed_at = ?, failed_reason = ''
		WHERE id = ?`,
		string(StatusCompleted), at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res)
}

// MarkDocumentFailed records a failure reason and increments the retry
// counter for operator visibility.
func (s *SQLiteStore) MarkDocumentFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, failed_reason = ?, retry_count = retry_count + 1
		WHERE id = ?`,
		string(StatusFailed), reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res)
}

// ReplaceEmbeddings atomically deletes all embeddings for a document and
// inserts the new set. Readers never observe a partially replaced set.
func (s *SQLiteStore) ReplaceEmbeddings(ctx context.Context, documentID string, embeddings []Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete stale embeddings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (id, document_id, tenant_id, chunk_index, chunk_text, vector, model, version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		vectorJSON, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("encode vector: %w", err)
		}
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, documentID, e.TenantID, e.ChunkIndex, e.ChunkText,
			vectorJSON, e.Model, e.Version, string(metadataJSON),
		); err != nil {
			return fmt.Errorf("insert embedding %d: %w", e.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

// CountEmbeddings returns the number of stored embeddings for a document.
func (s *SQLiteStore) CountEmbeddings(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// ListCandidates returns up to limit embeddings for a tenant joined with
// their owning document's filter fields. If limit <= 0, DefaultCandidateCap
// applies.
func (s *SQLiteStore) ListCandidates(ctx context.Context, tenantID string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultCandidateCap
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.document_id, e.tenant_id, e.chunk_index, e.chunk_text,
		       e.vector, e.model, e.version, e.metadata,
		       d.title, d.court, d.expediente, d.year, d.status, d.deleted_at
		FROM embeddings e
		JOIN documents d ON d.id = e.document_id
		WHERE e.tenant_id = ?
		LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var vectorJSON []byte
		var metadataJSON string
		var status string
		var deletedAt sql.NullString

		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Embedding.TenantID, &c.ChunkIndex,
			&c.ChunkText, &vectorJSON, &c.Model, &c.Version, &metadataJSON,
			&c.Document.Title, &c.Document.Court, &c.Document.Expediente,
			&c.Document.Year, &status, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		if err := json.Unmarshal(vectorJSON, &c.Vector); err != nil {
			return nil, fmt.Errorf("decode vector for embedding %s: %w", c.ID, err)
		}
		var meta chunk.Metadata
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for embedding %s: %w", c.ID, err)
		}
		c.Metadata = meta
		c.Document.ID = c.DocumentID
		c.Document.Status = ProcessingStatus(status)
		c.Document.DeletedAt = parseNullTime(deletedAt)

		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SaveQuery persists one immutable query record.
func (s *SQLiteStore) SaveQuery(ctx context.Context, q *QueryRecord) error {
	sourcesJSON, err := json.Marshal(q.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queries (id, tenant_id, user_id, matter_id, query, answer, confidence,
			has_valid_citations, needs_human_review, sources, tokens_used, cost_usd,
			response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.TenantID, q.UserID, q.MatterID, q.Query, q.Answer, string(q.Confidence),
		boolToInt(q.HasValidCitations), boolToInt(q.NeedsHumanReview), string(sourcesJSON),
		q.TokensUsed, q.CostUsd, q.ResponseTimeMs, q.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// UpdateFeedback attaches user feedback to a stored query. The answer and
// its metrics are never touched.
func (s *SQLiteStore) UpdateFeedback(ctx context.Context, queryID string, fb Feedback) error {
	fbJSON, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE queries SET feedback = ? WHERE id = ?`, string(fbJSON), queryID)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQueryNotFound
	}
	return nil
}

// ListQueries returns a tenant's query history, newest first. userID and
// matterID narrow the result when non-empty.
func (s *SQLiteStore) ListQueries(ctx context.Context, tenantID, userID, matterID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if userID != "" {
		where = append(where, "user_id = ?")
		args = append(args, userID)
	}
	if matterID != "" {
		where = append(where, "matter_id = ?")
		args = append(args, matterID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, matter_id, query, answer, confidence,
		       has_valid_citations, needs_human_review, sources, tokens_used,
		       cost_usd, response_time_ms, created_at, feedback
		FROM queries WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("select queries: %w", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *q)
	}
	return records, rows.Err()
}

// GetQuery loads a single query record by id.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, matter_id, query, answer, confidence,
		       has_valid_citations, needs_human_review, sources, tokens_used,
		       cost_usd, response_time_ms, created_at, feedback
		FROM queries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("select query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrQueryNotFound
	}
	return scanQuery(rows)
}

// GetConfig returns the RAG configuration for a tenant.
func (s *SQLiteStore) GetConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	cfg := &TenantConfig{TenantID: tenantID}
	var ragEnabled int
	var courtsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT rag_enabled, courts_enabled, min_year FROM tenant_configs
		WHERE tenant_id = ?`, tenantID,
	).Scan(&ragEnabled, &courtsJSON, &cfg.MinYear)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select config: %w", err)
	}

	cfg.RAGEnabled = ragEnabled != 0
	if err := json.Unmarshal([]byte(courtsJSON), &cfg.CourtsEnabled); err != nil {
		return nil, fmt.Errorf("decode courts: %w", err)
	}
	return cfg, nil
}

// UpsertConfig creates or replaces a tenant's RAG configuration.
func (s *SQLiteStore) UpsertConfig(ctx context.Context, cfg *TenantConfig) error {
	courtsJSON, err := json.Marshal(cfg.CourtsEnabled)
	if err != nil {
		return fmt.Errorf("encode courts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenant_configs (tenant_id, rag_enabled, courts_enabled, min_year)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			rag_enabled = excluded.rag_enabled,
			courts_enabled = excluded.courts_enabled,
			min_year = excluded.min_year`,
		cfg.TenantID, boolToInt(cfg.RAGEnabled), string(courtsJSON), cfg.MinYear)
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

// ListPendingDocuments returns ids of documents awaiting indexing for a tenant.
func (s *SQLiteStore) ListPendingDocuments(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE tenant_id = ? AND status = ? AND deleted_at IS NULL
		ORDER BY created_at ASC`, tenantID, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReprocessFilter narrows which documents an admin reset targets.
type ReprocessFilter struct {
	DocumentIDs []string
	Court       string
	Year        int
	FailedOnly  bool
}

// ResetDocuments returns matching documents to PENDING so an external
// retrier can pick them up again. Returns the number of documents reset.
func (s *SQLiteStore) ResetDocuments(ctx context.Context, tenantID string, filter ReprocessFilter) (int64, error) {
	where := []string{"tenant_id = ?", "deleted_at IS NULL"}
	args := []any{tenantID}

	if len(filter.DocumentIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.DocumentIDs))
		where = append(where, "id IN ("+placeholders[:len(placeholders)-1]+")")
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	if filter.Court != "" {
		where = append(where, "court = ?")
		args = append(args, filter.Court)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}
	if filter.FailedOnly {
		where = append(where, "status = ?")
		args = append(args, string(StatusFailed))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'PENDING', failed_reason = ''
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("reset documents: %w", err)
	}
	return res.RowsAffected()
}

// QueryMetric is the slice of a query record the admin stats aggregate over.
type QueryMetric struct {
	Confidence        Confidence
	HasValidCitations bool
	NeedsHumanReview  bool
	ResponseTimeMs    int64
	CostUsd           float64
}

// ListQueryMetrics returns the stats-relevant fields of every query for a tenant.
func (s *SQLiteStore) ListQueryMetrics(ctx context.Context, tenantID string) ([]QueryMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT confidence, has_valid_citations, needs_human_review, response_time_ms, cost_usd
		FROM queries WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("select query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []QueryMetric
	for rows.Next() {
		var m QueryMetric
		var conf string
		var valid, review int
		if err := rows.Scan(&conf, &valid, &review, &m.ResponseTimeMs, &m.CostUsd); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Confidence = Confidence(conf)
		m.HasValidCitations = valid != 0
		m.NeedsHumanReview = review != 0
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// CoverageRow is one document's coverage snapshot for the admin dashboard.
type CoverageRow struct {
	Year          int
	Court         string
	Status        ProcessingStatus
	HasText       bool
	HasEmbeddings bool
}

// ListCoverage returns the per-document coverage rows for a tenant,
// excluding soft-deleted documents.
func (s *SQLiteStore) ListCoverage(ctx context.Context, tenantID string) ([]CoverageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.year, d.court, d.status,
		       EXISTS(SELECT 1 FROM pages p WHERE p.document_id = d.id AND p.has_text = 1),
		       EXISTS(SELECT 1 FROM embeddings e WHERE e.document_id = d.id)
		FROM documents d
		WHERE d.tenant_id = ? AND d.deleted_at IS NULL`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("select coverage: %w", err)
	}
	defer rows.Close()

	var coverage []CoverageRow
	for rows.Next() {
		var r CoverageRow
		var status string
		var hasText, hasEmbeddings int
		if err := rows.Scan(&r.Year, &r.Court, &status, &hasText, &hasEmbeddings); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		r.Status = ProcessingStatus(status)
		r.HasText = hasText != 0
		r.HasEmbeddings = hasEmbeddings != 0
		coverage = append(coverage, r)
	}
	return coverage, rows.Err()
}

func scanQuery(rows *sql.Rows) (*QueryRecord, error) {
	q := &QueryRecord{}
	var conf, sourcesJSON, createdAt string
	var valid, review int
	var fbJSON sql.NullString

	if err := rows.Scan(&q.ID, &q.TenantID, &q.UserID, &q.MatterID, &q.Query, &q.Answer,
		&conf, &valid, &review, &sourcesJSON, &q.TokensUsed, &q.CostUsd,
		&q.ResponseTimeMs, &createdAt, &fbJSON,
	); err != nil {
		return nil, fmt.Errorf("scan query: %w", err)
	}

	q.Confidence = Confidence(conf)
	q.HasValidCitations = valid != 0
	q.NeedsHumanReview = review != 0
	q.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if err := json.Unmarshal([]byte(sourcesJSON), &q.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if fbJSON.Valid && fbJSON.String != "" {
		var fb Feedback
		if err := json.Unmarshal([]byte(fbJSON.String), &fb); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		q.Feedback = &fb
	}
	return q, nil
}

func requireRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
