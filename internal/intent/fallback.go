package intent

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"filesearch/internal/config"
	"filesearch/internal/models"
)

var (
	isoDateRe    = regexp.MustCompile(models.ISODateRegex)
	lastNDaysRe  = regexp.MustCompile(models.LastNDaysRegex)
	quotedNameRe = regexp.MustCompile(models.QuotedNameRegex)
	taggedRe     = regexp.MustCompile(models.TaggedRegex)
	tagSplitRe   = regexp.MustCompile(`\s*,\s*(?:and\s+)?`)
)

// FallbackParse is the deterministic rule-based parser: the same query and
// reference date always produce the same filter, so it is testable without
// the model. Dates are resolved to UTC midnight.
func FallbackParse(query string, referenceDate time.Time, vocab config.Vocabulary) models.StructuredFilter {
	f := models.StructuredFilter{Limit: DefaultLimit}
	q := strings.ToLower(query)
	ref := midnightUTC(referenceDate)

	f.StartDate, f.EndDate = parseDates(q, ref, vocab)

	for _, c := range vocab.Categories {
		for _, kw := range c.Keywords {
			if strings.Contains(q, kw) {
				f.DatabaseType = c.Category
				break
			}
		}
		if f.DatabaseType != "" {
			break
		}
	}

	// Match on the raw query so the fragment keeps its casing.
	if m := quotedNameRe.FindStringSubmatch(query); m != nil {
		f.NamePattern = m[1]
	}

	if m := taggedRe.FindStringSubmatch(q); m != nil {
		for _, t := range tagSplitRe.Split(m[1], -1) {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}

	return f
}

// parseDates applies date rules in a fixed precedence: explicit ISO dates,
// "last N days", configured relative phrases, "last month", "yesterday",
// "today".
func parseDates(q string, ref time.Time, vocab config.Vocabulary) (*time.Time, *time.Time) {
	if matches := isoDateRe.FindAllStringSubmatch(q, -1); len(matches) > 0 {
		var dates []time.Time
		for _, m := range matches {
			if t, err := time.Parse("2006-01-02", m[1]); err == nil {
				dates = append(dates, t)
			}
		}
		switch {
		case len(dates) >= 2:
			sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
			return &dates[0], &dates[len(dates)-1]
		case len(dates) == 1:
			// A lone date is treated as the end of a 30-day window,
			// mirroring the instruction given to the model.
			start := dates[0].AddDate(0, 0, -30)
			return &start, &dates[0]
		}
	}

	if m := lastNDaysRe.FindStringSubmatch(q); m != nil {
		n := 0
		for _, ch := range m[1] {
			n = n*10 + int(ch-'0')
		}
		start := ref.AddDate(0, 0, -n)
		return &start, &ref
	}

	// Sorted for deterministic output when several phrases match.
	phrases := make([]string, 0, len(vocab.RelativeDays))
	for phrase := range vocab.RelativeDays {
		phrases = append(phrases, phrase)
	}
	sort.Strings(phrases)
	for _, phrase := range phrases {
		if strings.Contains(q, phrase) {
			start := ref.AddDate(0, 0, -vocab.RelativeDays[phrase])
			return &start, &ref
		}
	}

	if strings.Contains(q, "last month") {
		firstOfThis := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := firstOfThis.AddDate(0, -1, 0)
		end := firstOfThis.AddDate(0, 0, -1)
		return &start, &end
	}

	if strings.Contains(q, "yesterday") {
		d := ref.AddDate(0, 0, -1)
		return &d, &d
	}

	if strings.Contains(q, "today") {
		return &ref, &ref
	}

	return nil, nil
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
