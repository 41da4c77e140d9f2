package models

import "time"

// ChunkingStrategy selects how a document is split into chunks.
type ChunkingStrategy string

const (
	StrategyAuto       ChunkingStrategy = "auto"
	StrategyWhitespace ChunkingStrategy = "whitespace"
	StrategySemantic   ChunkingStrategy = "semantic"
	StrategyFixed      ChunkingStrategy = "fixed"
)

// Valid reports whether s is one of the known strategies.
func (s ChunkingStrategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyWhitespace, StrategySemantic, StrategyFixed:
		return true
	}
	return false
}

// Allowed chunking parameter ranges.
const (
	MinTokensPerChunk = 100
	MaxTokensPerChunk = 2048
	MinOverlapTokens  = 0
	MaxOverlapTokens  = 500
)

// Store is a named, quota-bounded container for documents and their chunks.
type Store struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	// Default chunking configuration for files indexed into this store.
	ChunkingStrategy  ChunkingStrategy `json:"chunking_strategy"`
	MaxTokensPerChunk int              `json:"max_tokens_per_chunk"`
	MaxOverlapTokens  int              `json:"max_overlap_tokens"`

	// Usage counters, mutated only through the quota ledger.
	StorageQuota        int64 `json:"storage_quota"`
	TotalFiles          int   `json:"total_files"`
	TotalChunks         int   `json:"total_chunks"`
	StorageSizeBytes    int64 `json:"storage_size_bytes"`
	EmbeddingsSizeBytes int64 `json:"embeddings_size_bytes"`

	CustomMetadata map[string]any `json:"custom_metadata,omitempty"`
	IsActive       bool           `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalSizeBytes is the raw storage plus the estimated embeddings overhead.
func (s *Store) TotalSizeBytes() int64 {
	return s.StorageSizeBytes + s.EmbeddingsSizeBytes
}

// Document is a source file reference. It may exist without a store and
// without being indexed; the core only flips the indexed state.
type Document struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MediaType string `json:"media_type"`
	StoreID   string `json:"store_id,omitempty"`

	// Catalog attributes used by the historical retrieval path.
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	IsIndexed  bool       `json:"is_indexed"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
	UploadedAt time.Time  `json:"uploaded_at"`
}

// Chunk is an ordered retrieval unit derived from a document. Chunks are
// immutable once created; re-indexing replaces the full set for a document.
type Chunk struct {
	ID            string           `json:"id"`
	DocumentID    string           `json:"document_id"`
	StoreID       string           `json:"store_id"`
	SequenceIndex int              `json:"sequence_index"`
	Text          string           `json:"text"`
	TokenCount    int              `json:"token_count"`
	Strategy      ChunkingStrategy `json:"chunking_strategy"`
	OverlapTokens int              `json:"overlap_tokens"`

	CitationID      string `json:"citation_id"`
	SourceReference string `json:"source_reference"`
	FileName        string `json:"file_name"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Citation binds a chunk back to its human-readable source.
type Citation struct {
	ID              string `json:"citation_id"`
	SourceReference string `json:"source_reference"`
	SourceFile      string `json:"source_file"`
}

// SearchRequest is a semantic search across one or more stores.
type SearchRequest struct {
	Query            string         `json:"query"`
	StoreNames       []string       `json:"store_names,omitempty"`
	MetadataFilter   map[string]any `json:"metadata_filter,omitempty"`
	Limit            int            `json:"limit"`
	IncludeCitations bool           `json:"include_citations"`
}

// SearchResult is one ranked chunk with its provenance.
type SearchResult struct {
	ChunkID   string         `json:"chunk_id"`
	ChunkText string         `json:"chunk_text"`
	FileName  string         `json:"file_name"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Citation  *Citation      `json:"citation,omitempty"`
}

// SearchResponse is a write-once record of a search outcome.
type SearchResponse struct {
	Query          string         `json:"query"`
	ResultsCount   int            `json:"results_count"`
	Results        []SearchResult `json:"results"`
	FiltersApplied map[string]any `json:"filters_applied,omitempty"`

	// GroundingScore is the mean similarity of returned results in [0,1].
	GroundingScore float64 `json:"grounding_score"`

	// DegradedReason is set when the response is best-effort, e.g. the
	// embedding call timed out before any candidates were fetched.
	DegradedReason string `json:"degraded_reason,omitempty"`

	RetrievalTime  time.Duration `json:"retrieval_time"`
	GenerationTime time.Duration `json:"generation_time,omitempty"`
}

// StructuredFilter is the normalized form of a retrieval constraint,
// whether it came from explicit parameters or natural-language parsing.
// Nil date pointers mean the bound is open.
type StructuredFilter struct {
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	DatabaseType string     `json:"database_type,omitempty"`
	NamePattern  string     `json:"name_pattern,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// Merge returns f with any field that is set on override replaced by the
// override value. Explicit structured fields win over parsed ones.
func (f StructuredFilter) Merge(override *StructuredFilter) StructuredFilter {
	if override == nil {
		return f
	}
	if override.StartDate != nil {
		f.StartDate = override.StartDate
	}
	if override.EndDate != nil {
		f.EndDate = override.EndDate
	}
	if override.DatabaseType != "" {
		f.DatabaseType = override.DatabaseType
	}
	if override.NamePattern != "" {
		f.NamePattern = override.NamePattern
	}
	if len(override.Tags) > 0 {
		f.Tags = override.Tags
	}
	if override.Limit > 0 {
		f.Limit = override.Limit
	}
	return f
}

// RetrieveResponse lists catalog documents matching a structured filter.
type RetrieveResponse struct {
	Count          int               `json:"count"`
	Documents      []Document        `json:"documents"`
	FiltersApplied StructuredFilter  `json:"filters_applied"`
	ParsedQuery    *StructuredFilter `json:"parsed_query,omitempty"`
	OriginalQuery  string            `json:"original_query,omitempty"`

	// UsedFallback is set when the deterministic parser answered instead
	// of the language model. Diagnostic only, never an error.
	UsedFallback bool `json:"used_fallback,omitempty"`
}

// IndexRequest asks for a document to be chunked and indexed into a store.
// Zero-valued chunking fields fall back to the store defaults.
type IndexRequest struct {
	DocumentID        string           `json:"file_id"`
	StoreName         string           `json:"store_name"`
	ChunkingStrategy  ChunkingStrategy `json:"chunking_strategy,omitempty"`
	MaxTokensPerChunk int              `json:"max_tokens_per_chunk,omitempty"`
	MaxOverlapTokens  int              `json:"max_overlap_tokens,omitempty"`
	CustomMetadata    map[string]any   `json:"custom_metadata,omitempty"`
}

// IndexResult reports the outcome of a successful indexing run.
type IndexResult struct {
	DocumentID    string           `json:"file_id"`
	Store         string           `json:"store"`
	ChunksCreated int              `json:"chunks_created"`
	TotalTokens   int              `json:"total_tokens"`
	Strategy      ChunkingStrategy `json:"chunking_strategy"`
	Warnings      []string         `json:"warnings,omitempty"`
}
