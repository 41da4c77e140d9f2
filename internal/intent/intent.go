// Package intent converts free-text queries into structured retrieval
// filters. The primary path asks a language model; on timeout, malformed
// output or an unavailable service it degrades to a deterministic
// rule-based parser. Degradation is observable but never an error.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"filesearch/internal/config"
	"filesearch/internal/llmservice"
	"filesearch/internal/models"
)

// DefaultLimit applies when a query names no result count.
const DefaultLimit = 20

// MaxLimit caps any requested result count.
const MaxLimit = 100

var thinkTagRe = regexp.MustCompile(models.ThinkTag)

// Parser holds the model client (optional) and the fallback vocabulary.
type Parser struct {
	llm     llmservice.Inferencer
	timeout time.Duration
	vocab   config.Vocabulary
}

// NewParser builds a parser. llm may be nil, in which case every parse
// uses the deterministic rules.
func NewParser(llm llmservice.Inferencer, timeout time.Duration, vocab config.Vocabulary) *Parser {
	return &Parser{llm: llm, timeout: timeout, vocab: vocab}
}

// Result is a parsed filter plus whether the fallback produced it.
type Result struct {
	Filter       models.StructuredFilter
	UsedFallback bool
}

// Parse converts query into a structured filter, resolving relative dates
// against referenceDate. It never fails: the deterministic fallback
// answers whenever the model cannot.
func (p *Parser) Parse(ctx context.Context, query string, referenceDate time.Time) Result {
	if p.llm != nil {
		if f, ok := p.parseWithModel(ctx, query, referenceDate); ok {
			return Result{Filter: f}
		}
		log.Warn().Str("query", query).Msg("intent parse degraded to deterministic fallback")
	}
	return Result{
		Filter:       FallbackParse(query, referenceDate, p.vocab),
		UsedFallback: true,
	}
}

// wireFilter is the strict schema the model must produce. Anything beyond
// these fields invalidates the whole parse.
type wireFilter struct {
	DatabaseType string   `json:"database_type"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	NamePattern  string   `json:"name_pattern"`
	Tags         []string `json:"tags"`
	Limit        int      `json:"limit"`
}

func (p *Parser) parseWithModel(ctx context.Context, query string, referenceDate time.Time) (models.StructuredFilter, bool) {
	prompt := fmt.Sprintf(models.IntentPromptTemplate, referenceDate.Format("2006-01-02"), query)

	out, err := p.llm.Infer(ctx, prompt, p.timeout)
	if err != nil {
		log.Debug().Err(err).Msg("intent model call failed")
		return models.StructuredFilter{}, false
	}

	raw := extractJSON(thinkTagRe.ReplaceAllString(out, ""))
	if raw == "" {
		return models.StructuredFilter{}, false
	}

	var w wireFilter
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		log.Debug().Err(err).Msg("intent model output failed schema validation")
		return models.StructuredFilter{}, false
	}
	return p.normalize(w), true
}

// normalize maps the wire schema onto a StructuredFilter, dropping any
// field outside its allowed domain instead of failing.
func (p *Parser) normalize(w wireFilter) models.StructuredFilter {
	var f models.StructuredFilter

	if t, err := time.Parse("2006-01-02", w.StartDate); err == nil {
		f.StartDate = &t
	}
	if t, err := time.Parse("2006-01-02", w.EndDate); err == nil {
		f.EndDate = &t
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		f.StartDate, f.EndDate = f.EndDate, f.StartDate
	}

	dt := strings.ToLower(strings.TrimSpace(w.DatabaseType))
	if dt != "" && dt != "all" && p.knownCategory(dt) {
		f.DatabaseType = dt
	}

	f.NamePattern = strings.TrimSpace(w.NamePattern)

	for _, tag := range w.Tags {
		if t := strings.ToLower(strings.TrimSpace(tag)); t != "" {
			f.Tags = append(f.Tags, t)
		}
	}

	f.Limit = clampLimit(w.Limit)
	return f
}

func (p *Parser) knownCategory(name string) bool {
	for _, c := range p.vocab.Categories {
		if c.Category == name {
			return true
		}
	}
	return false
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// extractJSON returns the outermost {...} object in s, tolerating prose or
// code fences around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
