package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
)

func testVocab() config.Vocabulary {
	return config.Default().Intent.Vocabulary
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFallbackLastWeek(t *testing.T) {
	ref := day("2025-11-16")
	f := FallbackParse("show me all SQL schemas from last week", ref, testVocab())

	assert.Equal(t, "sql", f.DatabaseType)
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, day("2025-11-09"), *f.StartDate)
	assert.Equal(t, day("2025-11-16"), *f.EndDate)
	assert.Equal(t, DefaultLimit, f.Limit)
}

func TestFallbackNoSQLBeforeSQL(t *testing.T) {
	// "nosql" contains "sql"; the vocabulary order must win.
	f := FallbackParse("list nosql collections", day("2025-11-16"), testVocab())
	assert.Equal(t, "nosql", f.DatabaseType)

	f = FallbackParse("documents about mongodb sharding", day("2025-11-16"), testVocab())
	assert.Equal(t, "nosql", f.DatabaseType)
}

func TestFallbackISODateRange(t *testing.T) {
	f := FallbackParse("schemas between 2025-01-15 and 2025-03-01", day("2025-11-16"), testVocab())
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, day("2025-01-15"), *f.StartDate)
	assert.Equal(t, day("2025-03-01"), *f.EndDate)
}

func TestFallbackSingleISODateOpensThirtyDayWindow(t *testing.T) {
	f := FallbackParse("documents from 2025-06-30", day("2025-11-16"), testVocab())
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, day("2025-06-30"), *f.EndDate)
	assert.Equal(t, day("2025-05-31"), *f.StartDate)
}

func TestFallbackLastNDays(t *testing.T) {
	f := FallbackParse("changes in the last 10 days", day("2025-11-16"), testVocab())
	require.NotNil(t, f.StartDate)
	assert.Equal(t, day("2025-11-06"), *f.StartDate)
	assert.Equal(t, day("2025-11-16"), *f.EndDate)
}

func TestFallbackLastMonthIsPreviousCalendarMonth(t *testing.T) {
	f := FallbackParse("everything uploaded last month", day("2025-11-16"), testVocab())
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, day("2025-10-01"), *f.StartDate)
	assert.Equal(t, day("2025-10-31"), *f.EndDate)
}

func TestFallbackYesterdayIsSingleDay(t *testing.T) {
	f := FallbackParse("what changed yesterday", day("2025-11-16"), testVocab())
	require.NotNil(t, f.StartDate)
	assert.Equal(t, day("2025-11-15"), *f.StartDate)
	assert.Equal(t, *f.StartDate, *f.EndDate)
}

func TestFallbackQuotedNameKeepsCasing(t *testing.T) {
	f := FallbackParse(`find schemas with 'UserAccount' in the name`, day("2025-11-16"), testVocab())
	assert.Equal(t, "UserAccount", f.NamePattern)
}

func TestFallbackIgnoresApostrophesInsideWords(t *testing.T) {
	// Contractions and possessives are not quoted name fragments.
	f := FallbackParse("what's in last week's uploads", day("2025-11-16"), testVocab())
	assert.Empty(t, f.NamePattern)
	require.NotNil(t, f.StartDate, `"last week" still parses`)
	assert.Equal(t, day("2025-11-09"), *f.StartDate)
}

func TestFallbackTags(t *testing.T) {
	f := FallbackParse("documents tagged with billing, legacy, and audit", day("2025-11-16"), testVocab())
	assert.Equal(t, []string{"billing", "legacy", "audit"}, f.Tags)
}

func TestFallbackNoSignalsYieldsOpenFilter(t *testing.T) {
	f := FallbackParse("interesting documents please", day("2025-11-16"), testVocab())
	assert.Nil(t, f.StartDate)
	assert.Nil(t, f.EndDate)
	assert.Empty(t, f.DatabaseType)
	assert.Empty(t, f.NamePattern)
	assert.Empty(t, f.Tags)
	assert.Equal(t, DefaultLimit, f.Limit)
}

func TestFallbackDeterministic(t *testing.T) {
	ref := day("2025-11-16")
	q := "sql schemas tagged with billing from last week named 'orders'"
	a := FallbackParse(q, ref, testVocab())
	b := FallbackParse(q, ref, testVocab())
	assert.Equal(t, a, b)
}
