// Package chunker splits document text into ordered, overlapping retrieval
// units under a configurable strategy. Splitting is deterministic: the same
// text and configuration always produce the same boundaries.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"filesearch/internal/models"
)

// Average line length above which auto treats unbroken prose as semantic.
const autoLineLengthThreshold = 100

var (
	headingLineRe = regexp.MustCompile(`^#{1,6}\s+\S`)
	headingTextRe = regexp.MustCompile(models.MarkdownHeadRegex)
	sentenceRe    = regexp.MustCompile(`[^.!?]+[.!?]+['")\]]*\s*|[^.!?]+$`)
)

// Config selects a strategy and its token budget.
type Config struct {
	Strategy          models.ChunkingStrategy
	MaxTokensPerChunk int
	MaxOverlapTokens  int
}

// Segment is one emitted chunk of text with its token accounting.
type Segment struct {
	Text          string
	TokenCount    int
	OverlapTokens int
}

// Result carries the ordered segments plus any non-fatal warnings raised
// while normalizing the configuration.
type Result struct {
	Segments []Segment
	Strategy models.ChunkingStrategy // as requested
	Resolved models.ChunkingStrategy // concrete strategy after auto selection
	Warnings []string
}

// Engine is stateless; a single instance may be shared freely.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Chunk splits text under cfg. Invalid strategy or token bounds fail fast
// before any splitting work; an oversized overlap is clamped and reported
// as a warning, never rejected.
func (e *Engine) Chunk(text string, cfg Config) (*Result, error) {
	if !cfg.Strategy.Valid() {
		return nil, models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"unknown chunking strategy %q", cfg.Strategy)
	}
	if cfg.MaxTokensPerChunk < models.MinTokensPerChunk || cfg.MaxTokensPerChunk > models.MaxTokensPerChunk {
		return nil, models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"max_tokens_per_chunk %d outside [%d,%d]", cfg.MaxTokensPerChunk, models.MinTokensPerChunk, models.MaxTokensPerChunk)
	}
	if cfg.MaxOverlapTokens < models.MinOverlapTokens {
		return nil, models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"max_overlap_tokens %d is negative", cfg.MaxOverlapTokens)
	}

	res := &Result{Strategy: cfg.Strategy}

	overlap := cfg.MaxOverlapTokens
	if overlap > models.MaxOverlapTokens {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("overlap %d above limit %d, clamped", overlap, models.MaxOverlapTokens))
		overlap = models.MaxOverlapTokens
	}
	if overlap >= cfg.MaxTokensPerChunk {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("overlap %d not below chunk size %d, clamped to %d", overlap, cfg.MaxTokensPerChunk, cfg.MaxTokensPerChunk-1))
		overlap = cfg.MaxTokensPerChunk - 1
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return res, nil
	}

	resolved := cfg.Strategy
	if resolved == models.StrategyAuto {
		resolved = Classify(trimmed)
	}
	res.Resolved = resolved

	maxChars := cfg.MaxTokensPerChunk * CharsPerToken
	overlapChars := overlap * CharsPerToken

	var pieces []piece
	switch resolved {
	case models.StrategyWhitespace:
		pieces = whitespaceSplit(trimmed, maxChars, overlapChars)
	case models.StrategySemantic:
		pieces = semanticSplit(trimmed, maxChars, overlapChars)
	case models.StrategyFixed:
		pieces = fixedSplit(trimmed, maxChars, overlapChars)
	}

	for _, p := range pieces {
		t := strings.TrimSpace(p.text)
		if t == "" {
			continue
		}
		res.Segments = append(res.Segments, Segment{
			Text:          t,
			TokenCount:    EstimateTokens(t),
			OverlapTokens: EstimateTokens(strings.TrimSpace(p.overlap)),
		})
	}
	return res, nil
}

// Classify picks a concrete strategy for the auto mode by inspecting text
// structure. Best-effort heuristic, not guaranteed optimal: heading markers
// or multiple paragraphs (or long unbroken lines) suggest semantic
// boundaries, anything else chunks on whitespace.
func Classify(text string) models.ChunkingStrategy {
	if headingTextRe.MatchString(text) || strings.Contains(text, "\n\n") {
		return models.StrategySemantic
	}
	newlines := strings.Count(text, "\n")
	avgLine := len(text)
	if newlines > 0 {
		avgLine = len(text) / (newlines + 1)
	}
	if avgLine > autoLineLengthThreshold {
		return models.StrategySemantic
	}
	return models.StrategyWhitespace
}

// piece is an intermediate chunk: its text (overlap prefix included) and
// the overlap prefix itself, so token accounting can be derived later.
type piece struct {
	text    string
	overlap string
}

// whitespaceSplit accumulates whole words up to the character budget, then
// starts the next chunk with the trailing words that fit the overlap budget.
// Words are never split; a single word longer than the budget gets a chunk
// of its own.
func whitespaceSplit(text string, maxChars, overlapChars int) []piece {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var pieces []piece
	var cur []string
	curLen := 0
	overlap := ""

	for _, w := range words {
		wl := len(w) + 1
		if curLen+wl > maxChars && len(cur) > 0 {
			pieces = append(pieces, piece{text: strings.Join(cur, " "), overlap: overlap})

			carry := make([]string, 0, len(cur))
			carryLen := 0
			for i := len(cur) - 1; i >= 0; i-- {
				l := len(cur[i]) + 1
				if carryLen+l > overlapChars {
					break
				}
				carry = append([]string{cur[i]}, carry...)
				carryLen += l
			}
			cur = carry
			curLen = carryLen
			overlap = strings.Join(carry, " ")
		}
		cur = append(cur, w)
		curLen += wl
	}
	if len(cur) > 0 {
		pieces = append(pieces, piece{text: strings.Join(cur, " "), overlap: overlap})
	}
	return pieces
}

// semanticSplit groups paragraph/heading blocks up to the budget. A block
// that alone exceeds the budget falls back to whitespace splitting; overlap
// between semantic chunks is carried as trailing whole sentences.
func semanticSplit(text string, maxChars, overlapChars int) []piece {
	blocks := splitBlocks(text)

	// Reserve room for the sentence overlap so the token bound holds once
	// the prefix is attached.
	bodyBudget := maxChars - overlapChars - 1
	if bodyBudget < 1 {
		bodyBudget = 1
	}

	var pieces []piece
	emit := func(body string) {
		ov := ""
		if len(pieces) > 0 && overlapChars > 0 {
			ov = trailingSentences(pieces[len(pieces)-1].text, overlapChars)
		}
		t := body
		if ov != "" {
			t = ov + " " + body
		}
		pieces = append(pieces, piece{text: t, overlap: ov})
	}

	cur := ""
	for _, b := range blocks {
		if cur != "" && len(cur)+len(b)+2 <= bodyBudget {
			cur += "\n\n" + b
			continue
		}
		if cur == "" && len(b) <= bodyBudget {
			cur = b
			continue
		}
		if cur != "" {
			emit(cur)
			cur = ""
		}
		if len(b) > bodyBudget {
			// Oversized paragraph: word-granularity split with its own
			// word-level overlap already embedded.
			pieces = append(pieces, whitespaceSplit(b, maxChars, overlapChars)...)
		} else {
			cur = b
		}
	}
	if cur != "" {
		emit(cur)
	}
	return pieces
}

// splitBlocks separates text on blank lines, with heading lines always
// starting a fresh block.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) == 0 {
			return
		}
		if b := strings.TrimSpace(strings.Join(cur, "\n")); b != "" {
			blocks = append(blocks, b)
		}
		cur = nil
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if headingLineRe.MatchString(line) {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

// trailingSentences returns the longest run of whole sentences from the end
// of text that fits in maxChars. Returns "" when not even the last sentence
// fits; sentences are never split.
func trailingSentences(text string, maxChars int) string {
	sentences := sentenceRe.FindAllString(text, -1)
	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		s := strings.TrimSpace(sentences[i])
		if s == "" {
			continue
		}
		if total+len(s)+1 > maxChars {
			break
		}
		total += len(s) + 1
		start = i
	}
	if start == len(sentences) {
		return ""
	}
	var kept []string
	for _, s := range sentences[start:] {
		if t := strings.TrimSpace(s); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// fixedSplit cuts exact character windows with exact character overlap,
// ignoring content structure entirely.
func fixedSplit(text string, maxChars, overlapChars int) []piece {
	step := maxChars - overlapChars
	if step < 1 {
		step = 1
	}

	var pieces []piece
	for start := 0; start < len(text); start += step {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}
		ov := ""
		if start > 0 {
			ovEnd := start + overlapChars
			if ovEnd > end {
				ovEnd = end
			}
			ov = text[start:ovEnd]
		}
		pieces = append(pieces, piece{text: text[start:end], overlap: ov})
		if end == len(text) {
			break
		}
	}
	return pieces
}
