// Package db persists catalog state to Postgres with bun. It implements
// store.Persister; the in-memory catalog stays authoritative within a
// process, this layer makes it durable across restarts.
package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"filesearch/internal/models"
)

type StoreRecord struct {
	bun.BaseModel `bun:"table:stores,alias:s"`

	ID                string         `bun:"id,pk"`
	Name              string         `bun:"name,notnull,unique"`
	DisplayName       string         `bun:"display_name"`
	ChunkingStrategy  string         `bun:"chunking_strategy,notnull"`
	MaxTokensPerChunk int            `bun:"max_tokens_per_chunk,notnull"`
	MaxOverlapTokens  int            `bun:"max_overlap_tokens,notnull"`
	StorageQuota      int64          `bun:"storage_quota,notnull"`
	TotalFiles        int            `bun:"total_files,notnull,default:0"`
	TotalChunks       int            `bun:"total_chunks,notnull,default:0"`
	StorageSizeBytes  int64          `bun:"storage_size_bytes,notnull,default:0"`
	EmbeddingsSize    int64          `bun:"embeddings_size_bytes,notnull,default:0"`
	CustomMetadata    map[string]any `bun:"custom_metadata,type:jsonb"`
	IsActive          bool           `bun:"is_active,notnull,default:true"`
	CreatedAt         time.Time      `bun:"created_at,notnull"`
	UpdatedAt         time.Time      `bun:"updated_at,notnull"`
}

type DocumentRecord struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         string         `bun:"id,pk"`
	Name       string         `bun:"name,notnull"`
	SizeBytes  int64          `bun:"size_bytes,notnull,default:0"`
	MediaType  string         `bun:"media_type"`
	StoreID    string         `bun:"store_id"`
	Category   string         `bun:"category"`
	Tags       []string       `bun:"tags,array"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	IsIndexed  bool           `bun:"is_indexed,notnull,default:false"`
	IndexedAt  *time.Time     `bun:"indexed_at"`
	UploadedAt time.Time      `bun:"uploaded_at,notnull"`
}

type ChunkRecord struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID              string         `bun:"id,pk"`
	DocumentID      string         `bun:"document_id,notnull"`
	StoreID         string         `bun:"store_id,notnull"`
	SequenceIndex   int            `bun:"sequence_index,notnull"`
	Text            string         `bun:"text,notnull"`
	TokenCount      int            `bun:"token_count,notnull"`
	Strategy        string         `bun:"chunking_strategy,notnull"`
	OverlapTokens   int            `bun:"overlap_tokens,notnull,default:0"`
	CitationID      string         `bun:"citation_id,notnull"`
	SourceReference string         `bun:"source_reference,notnull"`
	FileName        string         `bun:"file_name"`
	Metadata        map[string]any `bun:"metadata,type:jsonb"`
	Embedding       []float32      `bun:"embedding,type:vector(768)"`
	CreatedAt       time.Time      `bun:"created_at,notnull"`
}

// QueryRecord keeps a write-once log of searches and their outcomes.
type QueryRecord struct {
	bun.BaseModel `bun:"table:queries,alias:q"`

	ID             int64          `bun:"id,pk,autoincrement"`
	Query          string         `bun:"query,notnull"`
	StoreNames     []string       `bun:"store_names,array"`
	FiltersApplied map[string]any `bun:"filters_applied,type:jsonb"`
	ResultsCount   int            `bun:"results_count,notnull"`
	GroundingScore float64        `bun:"grounding_score,notnull"`
	RetrievalMs    int64          `bun:"retrieval_ms,notnull"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn, password string) (*sql.DB, error) {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn+"?sslmode=disable"), pgdriver.WithPassword(password))), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*StoreRecord)(nil),
		(*DocumentRecord)(nil),
		(*ChunkRecord)(nil),
		(*QueryRecord)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Persister adapts a bun.DB to the catalog persistence hooks.
type Persister struct {
	db *bun.DB
}

func NewPersister(db *bun.DB) *Persister { return &Persister{db: db} }

func (p *Persister) SaveStore(ctx context.Context, s *models.Store) error {
	rec := &StoreRecord{
		ID:                s.ID,
		Name:              s.Name,
		DisplayName:       s.DisplayName,
		ChunkingStrategy:  string(s.ChunkingStrategy),
		MaxTokensPerChunk: s.MaxTokensPerChunk,
		MaxOverlapTokens:  s.MaxOverlapTokens,
		StorageQuota:      s.StorageQuota,
		TotalFiles:        s.TotalFiles,
		TotalChunks:       s.TotalChunks,
		StorageSizeBytes:  s.StorageSizeBytes,
		EmbeddingsSize:    s.EmbeddingsSizeBytes,
		CustomMetadata:    s.CustomMetadata,
		IsActive:          s.IsActive,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	_, err := p.db.NewInsert().Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("chunking_strategy = EXCLUDED.chunking_strategy").
		Set("max_tokens_per_chunk = EXCLUDED.max_tokens_per_chunk").
		Set("max_overlap_tokens = EXCLUDED.max_overlap_tokens").
		Set("storage_quota = EXCLUDED.storage_quota").
		Set("total_files = EXCLUDED.total_files").
		Set("total_chunks = EXCLUDED.total_chunks").
		Set("storage_size_bytes = EXCLUDED.storage_size_bytes").
		Set("embeddings_size_bytes = EXCLUDED.embeddings_size_bytes").
		Set("custom_metadata = EXCLUDED.custom_metadata").
		Set("is_active = EXCLUDED.is_active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (p *Persister) DeleteStore(ctx context.Context, storeID string) error {
	_, err := p.db.NewDelete().Model((*StoreRecord)(nil)).Where("id = ?", storeID).Exec(ctx)
	return err
}

func (p *Persister) SaveDocument(ctx context.Context, d *models.Document) error {
	rec := &DocumentRecord{
		ID:         d.ID,
		Name:       d.Name,
		SizeBytes:  d.SizeBytes,
		MediaType:  d.MediaType,
		StoreID:    d.StoreID,
		Category:   d.Category,
		Tags:       d.Tags,
		Metadata:   d.Metadata,
		IsIndexed:  d.IsIndexed,
		IndexedAt:  d.IndexedAt,
		UploadedAt: d.UploadedAt,
	}
	_, err := p.db.NewInsert().Model(rec).
		On("CONFLICT (id) DO UPDATE").
		Set("store_id = EXCLUDED.store_id").
		Set("size_bytes = EXCLUDED.size_bytes").
		Set("category = EXCLUDED.category").
		Set("tags = EXCLUDED.tags").
		Set("metadata = EXCLUDED.metadata").
		Set("is_indexed = EXCLUDED.is_indexed").
		Set("indexed_at = EXCLUDED.indexed_at").
		Exec(ctx)
	return err
}

func (p *Persister) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := p.db.NewDelete().Model((*DocumentRecord)(nil)).Where("id = ?", documentID).Exec(ctx)
	return err
}

// SaveChunks inserts a document's chunk rows together with their embedding
// vectors (aligned by index, may be nil when vectors are not persisted).
func (p *Persister) SaveChunks(ctx context.Context, chunks []*models.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	recs := chunkRecords(chunks, vectors)
	_, err := p.db.NewInsert().Model(&recs).Exec(ctx)
	return err
}

func chunkRecords(chunks []*models.Chunk, vectors [][]float32) []ChunkRecord {
	recs := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		recs[i] = ChunkRecord{
			ID:              c.ID,
			DocumentID:      c.DocumentID,
			StoreID:         c.StoreID,
			SequenceIndex:   c.SequenceIndex,
			Text:            c.Text,
			TokenCount:      c.TokenCount,
			Strategy:        string(c.Strategy),
			OverlapTokens:   c.OverlapTokens,
			CitationID:      c.CitationID,
			SourceReference: c.SourceReference,
			FileName:        c.FileName,
			Metadata:        c.Metadata,
			CreatedAt:       c.CreatedAt,
		}
		if i < len(vectors) {
			recs[i].Embedding = vectors[i]
		}
	}
	return recs
}

func (p *Persister) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := p.db.NewDelete().Model((*ChunkRecord)(nil)).Where("id IN (?)", bun.In(chunkIDs)).Exec(ctx)
	return err
}

func (p *Persister) SaveSearch(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) error {
	rec := &QueryRecord{
		Query:          req.Query,
		StoreNames:     req.StoreNames,
		FiltersApplied: req.MetadataFilter,
		ResultsCount:   resp.ResultsCount,
		GroundingScore: resp.GroundingScore,
		RetrievalMs:    resp.RetrievalTime.Milliseconds(),
	}
	_, err := p.db.NewInsert().Model(rec).Exec(ctx)
	return err
}

// SearchChunks orders stored chunks by vector distance, for deployments
// where pgvector is the index rather than the embedded store.
func SearchChunks(ctx context.Context, db *bun.DB, queryEmbedding []float32, limit int) ([]ChunkRecord, error) {
	var recs []ChunkRecord
	err := db.NewSelect().
		Model(&recs).
		ExcludeColumn("embedding").
		OrderExpr("embedding <-> ?", queryEmbedding).
		Limit(limit).
		Scan(ctx)
	return recs, err
}

// DropAll removes every table, used by the -reset flag.
func DropAll(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*QueryRecord)(nil),
		(*ChunkRecord)(nil),
		(*DocumentRecord)(nil),
		(*StoreRecord)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
