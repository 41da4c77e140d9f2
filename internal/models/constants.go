package models

const (
	// Patterns used by the deterministic query-intent fallback.
	ISODateRegex    = `\b(\d{4}-\d{2}-\d{2})\b`
	LastNDaysRegex  = `\blast\s+(\d+)\s+days?\b`
	// Quotes must open after a word break so apostrophes inside words
	// ("last week's") are not mistaken for name fragments.
	QuotedNameRegex = `(?:^|\s)['"]([^'"]+)['"]`
	TaggedRegex     = `\btagged(?:\s+with)?\s+([a-z0-9_-]+(?:\s*,\s*(?:and\s+)?[a-z0-9_-]+)*)`

	// Heading marker used by the auto-strategy heuristic.
	MarkdownHeadRegex = `(?m)^#{1,6}\s+\S`

	// Reasoning models wrap scratch work in think tags; strip before parsing.
	ThinkTag = `(?s)<think>.*?</think>`
)

var (
	// IntentPromptTemplate asks the model to turn a free-text query into the
	// structured filter schema. Arguments: reference date, query.
	IntentPromptTemplate = `You are a query parser for a document retrieval system. Parse the following natural language query into a JSON structure.

Current date: %s

User query: "%s"

Extract the following fields:
1. database_type: "sql", "nosql", or "all" (default: "all")
2. start_date and end_date: resolve relative phrases like "last week", "last month", "yesterday", "last 7 days" against the current date; format YYYY-MM-DD. If only one date is mentioned, use it as end_date and set start_date 30 days before.
3. name_pattern: a specific name or keyword to match in document names
4. tags: list of relevant tags mentioned in the query
5. limit: number of results to return (default: 20, max: 100)

Examples:
- "show me all SQL schemas from last week" -> {"database_type": "sql", "start_date": "2025-11-09", "end_date": "2025-11-16", "limit": 20}
- "get NoSQL schemas created in October" -> {"database_type": "nosql", "start_date": "2025-10-01", "end_date": "2025-10-31", "limit": 20}
- "find schemas with 'user' in the name" -> {"database_type": "all", "name_pattern": "user", "limit": 20}

Return ONLY valid JSON without any explanation. Omit fields you cannot determine.

JSON:`
)
