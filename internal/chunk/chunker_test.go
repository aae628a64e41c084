package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_EmptyAndWhitespace(t *testing.T) {
	cfg := DefaultConfig()

	assert.Nil(t, SplitText("", cfg))
	assert.Nil(t, SplitText("   \n\t  ", cfg))
}

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	cfg := Config{Size: 500, Overlap: 50}

	chunks := SplitText("a short paragraph.", cfg)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph.", chunks[0])
}

func TestSplitText_Deterministic(t *testing.T) {
	cfg := Config{Size: 120, Overlap: 20}
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)

	first := SplitText(text, cfg)
	for i := 0; i < 5; i++ {
		again := SplitText(text, cfg)
		require.Equal(t, first, again, "chunking must be deterministic")
	}
}

func TestSplitText_SnapsToSentenceBoundary(t *testing.T) {
	cfg := Config{Size: 100, Overlap: 10}
	// A period 20 characters before the hard cut at 100.
	text := strings.Repeat("a", 79) + "." + strings.Repeat("b", 120)

	chunks := SplitText(text, cfg)
	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("a", 79)+".", chunks[0], "window should snap just past the period")
	assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("a", 9)+"."), "next window starts overlap chars before the snapped end")
}

func TestSplitText_HardCutWhenNoBoundaryInBackscan(t *testing.T) {
	cfg := Config{Size: 200, Overlap: 20}
	text := strings.Repeat("x", 500)

	chunks := SplitText(text, cfg)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Len(t, chunks[0], 200, "no boundary within backscan keeps the hard cut")
}

func TestSplitText_NewlineCountsAsBoundary(t *testing.T) {
	cfg := Config{Size: 100, Overlap: 10}
	text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 200)

	chunks := SplitText(text, cfg)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasSuffix(chunks[0], "\n"), "paragraph break snaps the window")
}

func TestSplitText_CoverageReconstructsText(t *testing.T) {
	cfg := Config{Size: 150, Overlap: 30}
	text := strings.Repeat("Sentences end with periods. Some are short. Others ramble on for a while before stopping. ", 25)

	chunks := SplitText(text, cfg)
	require.NotEmpty(t, chunks)

	// Dropping each subsequent chunk's leading overlap reconstructs the
	// original text; no characters are lost between windows.
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		require.GreaterOrEqual(t, len(c), cfg.Overlap)
		sb.WriteString(c[cfg.Overlap:])
	}
	assert.Equal(t, text, sb.String())
}

func TestSplitText_TerminatesOnPathologicalBoundaries(t *testing.T) {
	// Every character is a boundary; snapping must still advance.
	// A stalled window would hang the test until the suite timeout.
	cfg := Config{Size: 50, Overlap: 40}
	text := strings.Repeat(".", 400)

	chunks := SplitText(text, cfg)
	assert.NotEmpty(t, chunks)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.GreaterOrEqual(t, total, len(text), "windows must cover the whole text")
}

// Window positions count characters, not bytes: 600 three-byte CJK
// characters at size 500 / overlap 50 must split exactly like 600 ASCII
// characters would, and never cut mid-rune.
func TestSplitText_MultiByteWindowsCountCharacters(t *testing.T) {
	cfg := Config{Size: 500, Overlap: 50}
	text := strings.Repeat("世", 600)

	chunks := SplitText(text, cfg)
	require.Len(t, chunks, 2, "600 chars at 500/50: [0,500) then [450,600)")
	assert.Equal(t, 500, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 150, utf8.RuneCountInString(chunks[1]))
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d must be valid UTF-8", i)
	}
}

func TestSplitText_MultiByteBoundarySnap(t *testing.T) {
	cfg := Config{Size: 100, Overlap: 10}
	text := strings.Repeat("日", 79) + "." + strings.Repeat("本", 120)

	chunks := SplitText(text, cfg)
	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Repeat("日", 79)+".", chunks[0], "backscan counts characters")
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d must be valid UTF-8", i)
	}
}

func TestSplitPages_ContiguousIndicesAcrossPages(t *testing.T) {
	cfg := Config{Size: 500, Overlap: 50}
	pages := []Page{
		{Number: 1, Text: strings.Repeat("a", 1200)},
		{Number: 2, Text: strings.Repeat("b", 300)},
	}

	pieces := SplitPages(pages, cfg)

	// 1200 chars at size 500 / overlap 50: [0,500) [450,950) [900,1200),
	// then one chunk for the 300-char page.
	require.Len(t, pieces, 4)
	for i, p := range pieces {
		assert.Equal(t, i, p.Index, "indices are contiguous across pages")
	}
	assert.Equal(t, 1, pieces[0].PageNumber)
	assert.Equal(t, 1, pieces[2].PageNumber)
	assert.Equal(t, 2, pieces[3].PageNumber)
	assert.Len(t, pieces[0].Content, 500)
	assert.Len(t, pieces[3].Content, 300)
}

func TestSplitPages_WhitespacePageYieldsNoChunks(t *testing.T) {
	cfg := DefaultConfig()
	pages := []Page{
		{Number: 1, Text: "real content on page one."},
		{Number: 2, Text: "   \n  "},
		{Number: 3, Text: "and page three."},
	}

	pieces := SplitPages(pages, cfg)
	require.Len(t, pieces, 2)
	assert.Equal(t, 1, pieces[0].PageNumber)
	assert.Equal(t, 3, pieces[1].PageNumber)
	assert.Equal(t, []int{0, 1}, []int{pieces[0].Index, pieces[1].Index})
}
