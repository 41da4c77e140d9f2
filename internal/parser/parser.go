// Package parser extracts plain text from uploaded files so the chunking
// engine can work on a uniform representation. Formats without an
// extraction path surface ErrUnsupportedFormat, never a silent empty
// result.
package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"filesearch/internal/models"
)

// plainTextExts are read verbatim; code files included.
var plainTextExts = map[string]bool{
	".txt": true, ".csv": true, ".log": true, ".json": true, ".xml": true,
	".yaml": true, ".yml": true, ".tex": true,
	".py": true, ".js": true, ".ts": true, ".go": true, ".rs": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".rb": true,
	".sql": true, ".sh": true,
}

// ExtractText reads filePath and returns its text content plus the media
// type label recorded on the document.
func ExtractText(filePath string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch {
	case ext == ".pdf":
		text, err := parsePDF(filePath)
		return text, "pdf", err
	case ext == ".docx":
		text, err := parseDOCX(filePath)
		return text, "docx", err
	case ext == ".pptx":
		text, err := parsePPTX(filePath)
		return text, "pptx", err
	case ext == ".xlsx":
		text, err := parseXLSX(filePath)
		return text, "xlsx", err
	case ext == ".ods":
		text, err := parseODS(filePath)
		return text, "ods", err
	case ext == ".md" || ext == ".markdown":
		text, err := parseMarkdownFile(filePath)
		return text, "markdown", err
	case plainTextExts[ext]:
		data, err := os.ReadFile(filePath)
		return string(data), "text", err
	default:
		return "", "", models.Reject(models.ErrUnsupportedFormat, models.ReasonUnsupportedFormat,
			"no text extraction path for %q", ext)
	}
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	doc := r.Editable()
	return doc.GetContent(), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := extractTextFromXML(string(data))
		if strings.TrimSpace(slideText) != "" {
			text.WriteString(slideText)
			text.WriteString("\n\n")
		}
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseODS(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}
