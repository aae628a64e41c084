// Package chunk splits extracted document text into overlapping windows
// for embedding and indexing. Splitting is pure and deterministic: the
// same text and config always produce the same chunk boundaries.
package chunk

import (
	"strings"
)

// BoundaryBackscan is how far (in characters) a window end searches
// backward for a sentence boundary before accepting a hard cut.
const BoundaryBackscan = 100

// Config configures the chunking window.
type Config struct {
	// Size is the window length in characters.
	Size int

	// Overlap is how many characters consecutive windows share.
	// Must be smaller than Size.
	Overlap int
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{Size: 500, Overlap: 50}
}

// Page is one page of extracted text, as produced by a document parser.
type Page struct {
	// Number is the 1-indexed page number.
	Number int

	// Text is the extracted page text.
	Text string
}

// Piece is a single chunk of document text.
type Piece struct {
	// Index is the 0-based chunk index, contiguous across all pages of
	// one document in page order.
	Index int

	// PageNumber is the page this chunk was cut from.
	PageNumber int

	// Content is the raw window content, including any overlap with the
	// previous chunk.
	Content string
}

// isBoundary reports whether r ends a sentence.
// Newlines count so paragraph breaks snap cleanly.
func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// SplitText splits one page's text into overlapping windows.
//
// Window positions are measured in characters, not bytes, so multi-byte
// text never gets cut mid-rune. The window advances Size characters at a
// time. When the window end falls inside the text, the end scans
// backward up to BoundaryBackscan characters for a sentence boundary and
// snaps just past it; otherwise the hard cut stands. The next window
// starts Overlap characters before the previous end. Whitespace-only
// text yields no chunks.
func SplitText(text string, cfg Config) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			// Final window covers the remainder.
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, window)
		}

		if end >= len(runes) {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			// Boundary snapping must never stall the window.
			next = end
		}
		start = next
	}

	return chunks
}

// snapToBoundary moves end backward to just past the nearest sentence
// boundary within the backscan window. The hard cut stands when no
// boundary is found or snapping would not leave room to advance.
func snapToBoundary(runes []rune, start, end int) int {
	limit := end - BoundaryBackscan
	if limit < start+1 {
		limit = start + 1
	}
	for i := end - 1; i >= limit; i-- {
		if isBoundary(runes[i]) {
			return i + 1
		}
	}
	return end
}

// SplitPages splits every page of a document and assigns chunk indices
// contiguously across pages in page order.
func SplitPages(pages []Page, cfg Config) []Piece {
	var pieces []Piece
	index := 0
	for _, page := range pages {
		for _, content := range SplitText(page.Text, cfg) {
			pieces = append(pieces, Piece{
				Index:      index,
				PageNumber: page.Number,
				Content:    content,
			})
			index++
		}
	}
	return pieces
}
