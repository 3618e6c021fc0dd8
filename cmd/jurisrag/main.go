// Package main provides the jurisrag CLI for indexing and querying
// jurisprudence documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexandes/jurisrag/internal/admin"
	"github.com/lexandes/jurisrag/internal/chunk"
	"github.com/lexandes/jurisrag/internal/embedding"
	"github.com/lexandes/jurisrag/internal/indexer"
	"github.com/lexandes/jurisrag/internal/rag"
	"github.com/lexandes/jurisrag/internal/search"
	"github.com/lexandes/jurisrag/internal/storage"
	"github.com/lexandes/jurisrag/internal/synthesis"
)

var (
	dbPath    string
	tenantID  string
	useQdrant bool
)

var rootCmd = &cobra.Command{
	Use:   "jurisrag",
	Short: "Jurisprudence retrieval-augmented search",
	Long:  "CLI for indexing court rulings and answering legal questions with cited sources",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <documents.json>...",
	Short: "Load ruling documents from JSON files into the store",
	Long: `Loads one or more JSON files, each holding an array of documents with
their extracted pages and sections, and stores them as PENDING for the
indexing pipeline.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed and index all pending documents for a tenant",
	Long: `Chunks every PENDING document, generates embeddings and atomically
replaces the stored embedding sets.

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings (required)
  QDRANT_HOST    Qdrant hostname, used with --qdrant (default: localhost)
  QDRANT_PORT    Qdrant gRPC port, used with --qdrant (default: 6334)`,
	RunE: runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed jurisprudence",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past queries for a tenant",
	RunE:  runHistory,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <query-id>",
	Short: "Attach feedback to an answered query",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show query quality and corpus coverage statistics",
	RunE:  runStats,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Reset documents to PENDING for re-indexing",
	RunE:  runReprocess,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Set a tenant's search configuration",
	RunE:  runConfig,
}

var (
	queryUser       string
	queryMatter     string
	queryCourts     []string
	queryMinYear    int
	historyLimit    int
	fbHelpful       bool
	fbCitationsOK   bool
	fbNotes         string
	reprocessIDs    []string
	reprocessCourt  string
	reprocessYear   int
	reprocessFailed bool
	cfgEnabled      bool
	cfgCourts       []string
	cfgMinYear      int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "jurisrag.db", "Path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant id")

	indexCmd.Flags().BoolVar(&useQdrant, "qdrant", false, "Also write embeddings to Qdrant")
	queryCmd.Flags().BoolVar(&useQdrant, "qdrant", false, "Search through Qdrant instead of the linear scan")
	queryCmd.Flags().StringVar(&queryUser, "user", "", "User id recorded on the query")
	queryCmd.Flags().StringVar(&queryMatter, "matter", "", "Matter id the query belongs to")
	queryCmd.Flags().StringSliceVar(&queryCourts, "courts", nil, "Restrict this query to the given courts (default: tenant config)")
	queryCmd.Flags().IntVar(&queryMinYear, "min-year", 0, "Restrict this query to rulings from this year onward (default: tenant config)")

	historyCmd.Flags().StringVar(&queryUser, "user", "", "Filter by user id")
	historyCmd.Flags().StringVar(&queryMatter, "matter", "", "Filter by matter id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum records to list")

	feedbackCmd.Flags().BoolVar(&fbHelpful, "helpful", false, "The answer was helpful")
	feedbackCmd.Flags().BoolVar(&fbCitationsOK, "citations-correct", false, "The citations were correct")
	feedbackCmd.Flags().StringVar(&fbNotes, "notes", "", "Free-form notes")

	reprocessCmd.Flags().StringSliceVar(&reprocessIDs, "ids", nil, "Specific document ids to reset")
	reprocessCmd.Flags().StringVar(&reprocessCourt, "court", "", "Only documents from this court")
	reprocessCmd.Flags().IntVar(&reprocessYear, "year", 0, "Only documents from this year")
	reprocessCmd.Flags().BoolVar(&reprocessFailed, "failed-only", false, "Only FAILED documents")

	configCmd.Flags().BoolVar(&cfgEnabled, "enable", false, "Enable jurisprudence search for the tenant")
	configCmd.Flags().StringSliceVar(&cfgCourts, "courts", nil, "Courts the tenant may search (empty allows all)")
	configCmd.Flags().IntVar(&cfgMinYear, "min-year", 0, "Oldest ruling year to search (0 disables the cutoff)")

	rootCmd.AddCommand(ingestCmd, indexCmd, queryCmd, historyCmd, feedbackCmd, statsCmd, reprocessCmd, configCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	return store, nil
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

// ingestFile mirrors the JSON shape produced by the document extraction
// service: an array of rulings with pages and sections.
type ingestFile []struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Court       string            `json:"court"`
	Expediente  string            `json:"expediente"`
	Year        int               `json:"year"`
	PublishDate time.Time         `json:"publishDate"`
	Pages       []storage.Page    `json:"pages"`
	Sections    []storage.Section `json:"sections"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	total := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		var docs ingestFile
		if err := json.Unmarshal(data, &docs); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		for _, d := range docs {
			id := d.ID
			if id == "" {
				id = uuid.New().String()
			}
			doc := &storage.Document{
				ID:          id,
				TenantID:    tenantID,
				Title:       d.Title,
				Court:       d.Court,
				Expediente:  d.Expediente,
				Year:        d.Year,
				PublishDate: d.PublishDate,
				Pages:       d.Pages,
				Sections:    d.Sections,
			}
			if err := store.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("failed to store document %s: %w", id, err)
			}
			total++
		}
		fmt.Printf("Loaded %s\n", path)
	}

	fmt.Printf("Ingested %d documents\n", total)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	start := time.Now()

	client, err := embedding.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, 0) // Default batch size

	writers := []indexer.EmbeddingWriter{store}
	if useQdrant {
		index, err := connectQdrant(ctx)
		if err != nil {
			return err
		}
		defer index.Close()
		writers = append(writers, index)
	}

	pipeline := indexer.NewPipeline(store, chunk.New(), embedder, slog.Default(), writers...)

	fmt.Println("Indexing pending documents...")
	result, err := pipeline.ProcessPending(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Indexing complete!")
	fmt.Printf("  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.DocumentID, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

// qdrantRetriever adapts the Qdrant index to the orchestrator's retriever
// contract, pinning the same similarity threshold the linear scan uses.
type qdrantRetriever struct {
	index *storage.QdrantIndex
}

func (r qdrantRetriever) Search(ctx context.Context, vector []float32, filters storage.SearchFilters, topK int) ([]storage.Match, error) {
	return r.index.Search(ctx, vector, filters, topK, search.DefaultMinSimilarity)
}

func connectQdrant(ctx context.Context) (*storage.QdrantIndex, error) {
	host := getEnv("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)

	index, err := storage.NewQdrantIndex(host, port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	if err := index.EnsureCollection(ctx); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	return index, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	client, err := embedding.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, 0)
	synthesizer := synthesis.NewSynthesizer(client.Client())

	var retriever rag.Retriever
	if useQdrant {
		index, err := connectQdrant(ctx)
		if err != nil {
			return err
		}
		defer index.Close()
		retriever = qdrantRetriever{index: index}
	} else {
		retriever = search.NewSearcher(store, 0, 0, slog.Default())
	}

	service := rag.NewService(store, embedder, retriever, synthesizer, store, slog.Default())

	resp, err := service.Query(ctx, rag.Request{
		TenantID: tenantID,
		UserID:   queryUser,
		MatterID: queryMatter,
		Query:    args[0],
		Courts:   queryCourts,
		MinYear:  queryMinYear,
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	fmt.Println()
	fmt.Printf("Confidence: %s", resp.Confidence)
	if resp.NeedsHumanReview {
		fmt.Print("  (needs human review)")
	}
	fmt.Println()
	if len(resp.Sources) > 0 {
		fmt.Println("Sources:")
		for _, src := range resp.Sources {
			cited := " "
			if src.CitedInAnswer {
				cited = "*"
			}
			fmt.Printf("  %s %s %s (%s, %d) similarity %.2f\n",
				cited, src.SourceTag, src.Title, src.Court, src.Year, src.Similarity)
		}
	}
	fmt.Printf("Query %s  type=%s  tokens=%d  cost=$%.6f  %dms\n",
		resp.QueryID, resp.QueryType, resp.TokensUsed, resp.CostUsd, resp.ResponseTimeMs)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListQueries(cmd.Context(), tenantID, queryUser, queryMatter, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list queries: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No queries recorded")
		return nil
	}
	for _, q := range records {
		review := ""
		if q.NeedsHumanReview {
			review = " [review]"
		}
		fmt.Printf("%s  %s  %s%s\n    %s\n",
			q.CreatedAt.Format(time.RFC3339), q.ID, q.Confidence, review, q.Query)
	}
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	fb := storage.Feedback{
		Helpful:          fbHelpful,
		CitationsCorrect: fbCitationsOK,
		Notes:            fbNotes,
	}
	if err := store.UpdateFeedback(cmd.Context(), args[0], fb); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	fmt.Println("Feedback saved")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	service := admin.NewService(store, slog.Default())

	queries, err := service.QueryStats(ctx, tenantID)
	if err != nil {
		return err
	}
	coverage, err := service.CoverageStats(ctx, tenantID)
	if err != nil {
		return err
	}

	fmt.Printf("Queries: %d\n", queries.TotalQueries)
	if queries.TotalQueries > 0 {
		fmt.Printf("  Avg confidence score: %.2f\n", queries.AvgConfidenceScore)
		fmt.Printf("  Valid citations: %.1f%%\n", queries.PctValidCitations)
		fmt.Printf("  Needs review: %.1f%%\n", queries.PctNeedsReview)
		fmt.Printf("  Response time p50/p95: %dms / %dms\n", queries.ResponseTimeP50Ms, queries.ResponseTimeP95Ms)
		fmt.Printf("  Cost: $%.4f total, $%.6f avg\n", queries.TotalCostUsd, queries.AvgCostUsd)
		for conf, n := range queries.ByConfidence {
			fmt.Printf("  %s: %d\n", conf, n)
		}
	}

	fmt.Println()
	fmt.Printf("Documents: %d (%d indexed)\n", coverage.TotalDocuments, coverage.Indexed)
	for year, bucket := range coverage.ByYear {
		fmt.Printf("  %d: %d/%d indexed", year, bucket.Indexed, bucket.Total)
		if bucket.Failed > 0 {
			fmt.Printf(", %d failed", bucket.Failed)
		}
		fmt.Println()
	}
	for court, bucket := range coverage.ByCourt {
		fmt.Printf("  %s: %d/%d indexed\n", court, bucket.Indexed, bucket.Total)
	}
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	service := admin.NewService(store, slog.Default())
	count, err := service.Reprocess(cmd.Context(), tenantID, storage.ReprocessFilter{
		DocumentIDs: reprocessIDs,
		Court:       reprocessCourt,
		Year:        reprocessYear,
		FailedOnly:  reprocessFailed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Reset %d documents to PENDING; run 'jurisrag index' to re-index\n", count)
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := &storage.TenantConfig{
		TenantID:      tenantID,
		RAGEnabled:    cfgEnabled,
		CourtsEnabled: cfgCourts,
		MinYear:       cfgMinYear,
	}
	if err := store.UpsertConfig(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("Config saved for tenant %s (enabled=%v)\n", tenantID, cfgEnabled)
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
