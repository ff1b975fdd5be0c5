// Package extract pulls plain text out of uploaded documents. Each format
// has a dedicated extractor; all of them produce a Result with the full text,
// a per-page breakdown where the format has pages, and format metadata.
package extract

import (
	"context"
	"fmt"
	"strings"

	simplychat "github.com/simplyai/simplychat"
)

// Result is the output of text extraction.
type Result struct {
	// Text is the full document text with pages joined by blank lines.
	Text string
	// Pages holds per-page text for paged formats (PDF, XLSX sheets).
	// Empty for flat formats; callers treat the whole text as one page.
	Pages []string
	// Metadata carries format-specific details (page counts, encoding,
	// document properties).
	Metadata map[string]string
}

// PageCount returns the number of pages, treating flat documents as one.
func (r *Result) PageCount() int {
	if len(r.Pages) > 0 {
		return len(r.Pages)
	}
	return 1
}

var supported = map[string]bool{
	"pdf":  true,
	"txt":  true,
	"md":   true,
	"csv":  true,
	"json": true,
	"docx": true,
	"xlsx": true,
}

// Supported reports whether ext (without dot, any case) can be extracted.
func Supported(ext string) bool {
	return supported[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// SupportedFormats lists the accepted file extensions.
func SupportedFormats() []string {
	return []string{"pdf", "txt", "md", "csv", "json", "docx", "xlsx"}
}

// Extract reads the file at path and returns its text. The format is chosen
// by ext, not by sniffing content.
func Extract(ctx context.Context, path, ext string) (*Result, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	var (
		res *Result
		err error
	)
	switch ext {
	case "pdf":
		res, err = extractPDF(ctx, path)
	case "txt", "md", "csv", "json":
		res, err = extractText(path, ext)
	case "docx":
		res, err = extractDOCX(path)
	case "xlsx":
		res, err = extractXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %q", simplychat.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(res.Text) == "" {
		return nil, simplychat.ErrEmptyDocument
	}
	return res, nil
}
