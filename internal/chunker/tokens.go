package chunker

// CharsPerToken is the rough character-to-token ratio used for splitting
// decisions and stored token counts.
const CharsPerToken = 4

// EstimateTokens approximates the token count of text as ceil(len/4).
// Pure function; both split points and stored counts come from it so the
// two never disagree.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}
