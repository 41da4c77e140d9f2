package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/models"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeTemp(t, "schema.sql", "CREATE TABLE users (id serial PRIMARY KEY);")

	text, mediaType, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "text", mediaType)
	assert.Equal(t, "CREATE TABLE users (id serial PRIMARY KEY);", text)
}

func TestExtractMarkdownKeepsStructure(t *testing.T) {
	md := "# Title\n\nFirst paragraph.\n\n## Section\n\nSecond paragraph."
	path := writeTemp(t, "doc.md", md)

	text, mediaType, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "markdown", mediaType)
	assert.Contains(t, text, "# Title")
	assert.Contains(t, text, "## Section")
	assert.Contains(t, text, "First paragraph.")
}

func TestExtractUnsupportedFormat(t *testing.T) {
	path := writeTemp(t, "image.png", "not really an image")

	_, _, err := ExtractText(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	var rej *models.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.ReasonUnsupportedFormat, rej.Reason)
}

func TestExtractMissingFile(t *testing.T) {
	_, _, err := ExtractText(filepath.Join(t.TempDir(), "gone.txt"))
	assert.Error(t, err)
}

func TestExtractTextFromXML(t *testing.T) {
	xml := `<p:sp><a:t>Hello</a:t></p:sp><p:sp><a:t>World</a:t></p:sp>`
	assert.Equal(t, "Hello World ", extractTextFromXML(xml))
}
