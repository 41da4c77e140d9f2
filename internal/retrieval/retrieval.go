package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"filesearch/internal/embedding"
	"filesearch/internal/index"
	"filesearch/internal/models"
)

// ChunkSource resolves candidate IDs back to full chunks. The store
// manager's catalog implements it.
type ChunkSource interface {
	ChunkByID(id string) (*models.Chunk, bool)
}

// Service ranks chunks against a query embedding. It oversamples the
// vector index so that metadata filtering still leaves enough results.
type Service struct {
	embedder     embedding.Embedder
	index        index.Index
	chunks       ChunkSource
	oversample   int
	embedTimeout time.Duration
}

func NewService(embedder embedding.Embedder, idx index.Index, chunks ChunkSource, oversample int, embedTimeout time.Duration) *Service {
	if oversample < 1 {
		oversample = 1
	}
	return &Service{
		embedder:     embedder,
		index:        idx,
		chunks:       chunks,
		oversample:   oversample,
		embedTimeout: embedTimeout,
	}
}

// Search embeds the query, fetches limit*oversample candidates scoped to
// storeIDs, applies the metadata filter, and returns the top limit chunks
// with citations and a grounding score.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest, storeIDs []string) (*models.SearchResponse, error) {
	start := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(embedCtx, req.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Str("query", req.Query).Msg("query embedding timed out, returning degraded response")
			return s.degraded(req, start), nil
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := s.index.Query(ctx, vector, limit*s.oversample, storeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	results := make([]models.SearchResult, 0, limit)
	for _, cand := range candidates {
		chunk, ok := s.chunks.ChunkByID(cand.ID)
		if !ok {
			log.Debug().Str("chunkId", cand.ID).Msg("index candidate missing from catalog, skipping")
			continue
		}
		if !MatchesMetadata(chunk.Metadata, req.MetadataFilter) {
			continue
		}
		result := models.SearchResult{
			ChunkID:   chunk.ID,
			ChunkText: chunk.Text,
			FileName:  chunk.FileName,
			Score:     cand.Similarity,
			Metadata:  chunk.Metadata,
		}
		if req.IncludeCitations {
			result.Citation = &models.Citation{
				ID:              chunk.CitationID,
				SourceReference: chunk.SourceReference,
				SourceFile:      chunk.FileName,
			}
		}
		results = append(results, result)
		if len(results) == limit {
			break
		}
	}

	return &models.SearchResponse{
		Query:          req.Query,
		ResultsCount:   len(results),
		Results:        results,
		FiltersApplied: req.MetadataFilter,
		GroundingScore: groundingScore(results),
		RetrievalTime:  time.Since(start),
	}, nil
}

// degraded is the timeout shape: empty results, zero grounding, never an
// error so callers can still render a response.
func (s *Service) degraded(req *models.SearchRequest, start time.Time) *models.SearchResponse {
	return &models.SearchResponse{
		Query:          req.Query,
		Results:        []models.SearchResult{},
		FiltersApplied: req.MetadataFilter,
		DegradedReason: models.ReasonRetrievalTimeout,
		RetrievalTime:  time.Since(start),
	}
}

// groundingScore is the mean similarity of the returned results, clipped
// to [0,1]. No results means no grounding.
func groundingScore(results []models.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	score := sum / float64(len(results))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// MatchesMetadata reports whether chunk metadata satisfies every entry of
// the filter. Scalar filter values require exact equality; slice values
// match when the metadata value equals any element; map values are
// operator descriptors ("gte"/"lte" for ranges, "like" for a
// case-insensitive substring).
func MatchesMetadata(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := meta[key]
		if !ok {
			return false
		}
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchValue(got, want any) bool {
	switch w := want.(type) {
	case []any:
		for _, candidate := range w {
			if equalValues(got, candidate) {
				return true
			}
		}
		return false
	case []string:
		for _, candidate := range w {
			if equalValues(got, candidate) {
				return true
			}
		}
		return false
	case map[string]any:
		return matchDescriptor(got, w)
	default:
		return equalValues(got, want)
	}
}

func matchDescriptor(got any, desc map[string]any) bool {
	for op, bound := range desc {
		switch op {
		case "gte":
			gn, ok1 := asFloat(got)
			bn, ok2 := asFloat(bound)
			if !ok1 || !ok2 || gn < bn {
				return false
			}
		case "lte":
			gn, ok1 := asFloat(got)
			bn, ok2 := asFloat(bound)
			if !ok1 || !ok2 || gn > bn {
				return false
			}
		case "like":
			gs, ok1 := got.(string)
			bs, ok2 := bound.(string)
			if !ok1 || !ok2 || !strings.Contains(strings.ToLower(gs), strings.ToLower(bs)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalValues(got, want any) bool {
	if gn, ok := asFloat(got); ok {
		if wn, ok := asFloat(want); ok {
			return gn == wn
		}
		return false
	}
	return got == want
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
