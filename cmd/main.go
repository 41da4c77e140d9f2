package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"filesearch/internal/config"
	"filesearch/internal/db"
	"filesearch/internal/embedding"
	"filesearch/internal/helper"
	"filesearch/internal/index"
	"filesearch/internal/intent"
	"filesearch/internal/llmservice"
	"filesearch/internal/models"
	"filesearch/internal/parser"
	"filesearch/internal/quota"
	"filesearch/internal/store"
)

const (
	configFilePath = "./configs/config.yaml"
	vectorDBPath   = "./vectordb"
	inMemory       = false
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	createStore := flag.String("create-store", "", "Name of a store to create")
	storeName := flag.String("store", "", "Store to index into or search")
	filePath := flag.String("file", "", "Path to the document file to index")
	query := flag.String("query", "", "Semantic search query")
	retrieve := flag.String("retrieve", "", "Natural-language document retrieval query")
	pgQuery := flag.String("pg-query", "", "Search chunks by vector distance directly in Postgres")
	limit := flag.Int("limit", 10, "Maximum number of results")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk only, do not embed or persist")
	reset := flag.Bool("reset", false, "Drop all database tables")
	flag.Parse()

	ctx := context.Background()

	switch {
	case *createStore != "":
		runCreateStore(ctx, *createStore)
	case *filePath != "":
		runIndex(ctx, *storeName, *filePath, *dryRun)
	case *query != "":
		runSearch(ctx, *storeName, *query, *limit)
	case *retrieve != "":
		runRetrieve(ctx, *retrieve)
	case *pgQuery != "":
		runPgSearch(ctx, *pgQuery, *limit)
	case *reset:
		runReset(ctx)
	default:
		log.Fatal().Msg("Provide one of -create-store, -file, -query, -retrieve, -pg-query or -reset")
	}
}

func buildManager(ctx context.Context, cfg *config.Config, withPersistence bool) *store.Manager {
	embedder, err := embedding.NewOllamaClient(&cfg.EmbedLLM, time.Duration(cfg.Retrieval.EmbedTimeoutSecs)*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	idx, err := index.NewChromem(vectorDBPath, inMemory)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector database")
	}

	var inferencer llmservice.Inferencer
	if cfg.InferLLM.BaseURL != "" {
		client, err := llmservice.NewClient(&cfg.InferLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing language model client")
		}
		inferencer = client
	}
	intents := intent.NewParser(inferencer, time.Duration(cfg.Intent.LLMTimeoutSecs)*time.Second, cfg.Intent.Vocabulary)

	var persist store.Persister
	if withPersistence && cfg.Database.DSN != "" {
		bundb := connectBun(cfg)
		if err := db.InitDB(ctx, bundb); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		persist = db.NewPersister(bundb)
	}

	defaults := store.Defaults{
		ChunkingStrategy:  models.ChunkingStrategy(cfg.Chunking.Strategy),
		MaxTokensPerChunk: cfg.Chunking.MaxTokensPerChunk,
		MaxOverlapTokens:  cfg.Chunking.MaxOverlapTokens,
		QuotaBytes:        cfg.Quota.DefaultQuotaBytes,
	}
	ledger := quota.NewLedger(cfg.Quota.EmbeddingOverheadFactor)

	return store.NewManager(defaults, ledger, embedder, idx, intents, persist,
		cfg.Retrieval.OversamplingFactor, time.Duration(cfg.Retrieval.EmbedTimeoutSecs)*time.Second)
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Warn().Err(err).Msg("Config not loaded, using defaults")
		return config.Default()
	}
	return cfg
}

func runCreateStore(ctx context.Context, name string) {
	cfg := loadConfig()
	mgr := buildManager(ctx, cfg, true)

	s, err := mgr.CreateStore(ctx, store.CreateStoreParams{Name: name})
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating store")
	}
	helper.PrettyPrint(s)
}

func runIndex(ctx context.Context, storeName, filePath string, dryRun bool) {
	if storeName == "" {
		log.Fatal().Msg("Provide the target store with -store")
	}
	cfg := loadConfig()
	mgr := buildManager(ctx, cfg, !dryRun)

	if _, err := mgr.GetStore(storeName); err != nil {
		if _, err := mgr.CreateStore(ctx, store.CreateStoreParams{Name: storeName}); err != nil {
			log.Fatal().Err(err).Msg("Error creating store")
		}
	}

	text, mediaType, err := parser.ExtractText(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	log.Info().Str("file", filePath).Str("mediaType", mediaType).Int("bytes", len(text)).Msg("Parsed document")

	if dryRun {
		return
	}

	doc := &models.Document{
		Name:      filepath.Base(filePath),
		MediaType: mediaType,
	}
	if err := mgr.AddDocument(ctx, doc); err != nil {
		log.Fatal().Err(err).Msg("Error registering document")
	}

	result, err := mgr.IndexDocument(ctx, &models.IndexRequest{
		DocumentID: doc.ID,
		StoreName:  storeName,
	}, text)
	if err != nil {
		log.Fatal().Err(err).Msg("Error indexing document")
	}
	helper.PrettyPrint(result)
}

func runSearch(ctx context.Context, storeName, query string, limit int) {
	cfg := loadConfig()
	mgr := buildManager(ctx, cfg, true)

	req := &models.SearchRequest{
		Query:            query,
		Limit:            limit,
		IncludeCitations: true,
	}
	if storeName != "" {
		req.StoreNames = strings.Split(storeName, ",")
	}

	resp, err := mgr.Search(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Error searching")
	}
	helper.PrettyPrint(resp)
}

func runRetrieve(ctx context.Context, query string) {
	cfg := loadConfig()
	mgr := buildManager(ctx, cfg, true)

	resp := mgr.RetrieveByQuery(ctx, query, nil, time.Now().UTC())
	helper.PrettyPrint(resp)
}

func connectBun(cfg *config.Config) *bun.DB {
	if cfg.Database.DSN == "" {
		log.Fatal().Msg("Provide a database DSN in the config")
	}
	sqldb, err := db.ConnectDB(cfg.Database.DSN, cfg.Database.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	return db.NewDB(sqldb, cfg.Database.Debug)
}

// runPgSearch queries chunk vectors stored in Postgres, for deployments
// that index with pgvector instead of the embedded store.
func runPgSearch(ctx context.Context, query string, limit int) {
	cfg := loadConfig()
	bundb := connectBun(cfg)

	embedder, err := embedding.NewOllamaClient(&cfg.EmbedLLM, time.Duration(cfg.Retrieval.EmbedTimeoutSecs)*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error embedding query")
	}

	recs, err := db.SearchChunks(ctx, bundb, vec, limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Error searching chunks")
	}
	helper.PrettyPrint(recs)
}

func runReset(ctx context.Context) {
	cfg := loadConfig()
	bundb := connectBun(cfg)

	if err := db.DropAll(ctx, bundb); err != nil {
		log.Fatal().Err(err).Msg("Error dropping tables")
	}
	log.Info().Msg("Database tables dropped")
}
