// Package parse defines the document parser collaborator interface.
//
// Parsers turn an uploaded file into ordered pages of text. Parse
// failures are permanent: corrupt input does not get better on retry, so
// the pipeline surfaces them as a document ERROR immediately.
package parse

import (
	"context"
	"os"
	"strings"

	"github.com/docforge/docforge/internal/chunk"
	"github.com/docforge/docforge/internal/errors"
)

// Parser extracts page-level text from a document file.
type Parser interface {
	// Parse returns the document's pages in page order.
	// Errors are permanent (ErrCodeParseFailed / ErrCodeCorruptInput).
	Parse(ctx context.Context, filePath string) ([]chunk.Page, error)
}

// TextParser parses plain text files. Pages are separated by form feed
// characters; a file without form feeds is a single page.
type TextParser struct{}

// Verify interface implementation at compile time
var _ Parser = (*TextParser)(nil)

// NewTextParser creates a plain text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse reads the file and splits it into pages on form feeds.
func (p *TextParser) Parse(ctx context.Context, filePath string) ([]chunk.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err)
		}
		return nil, errors.Wrap(errors.ErrCodeParseFailed, err)
	}

	if !isPlausibleText(data) {
		return nil, errors.New(errors.ErrCodeCorruptInput,
			"file does not look like text", nil).
			WithDetail("path", filePath)
	}

	raw := strings.Split(string(data), "\f")
	pages := make([]chunk.Page, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, chunk.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}

// isPlausibleText rejects files with NUL bytes, the usual binary tell.
func isPlausibleText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}
