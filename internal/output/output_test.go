package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "Checking embedder...")

	output := buf.String()
	assert.Contains(t, output, "🔍")
	assert.Contains(t, output, "Checking embedder...")
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Document ready")

	output := buf.String()
	assert.Contains(t, output, "✅")
	assert.Contains(t, output, "Document ready")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warning("Embedder not available")

	output := buf.String()
	assert.Contains(t, output, "⚠️")
	assert.Contains(t, output, "Embedder not available")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Error("Failed to connect")

	output := buf.String()
	assert.Contains(t, output, "❌")
	assert.Contains(t, output, "Failed to connect")
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Found %d documents in %s", 42, "proj-a")

	output := buf.String()
	assert.Contains(t, output, "📂")
	assert.Contains(t, output, "Found 42 documents in proj-a")
}

func TestWriter_Fraction_PrintsPercentAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Fraction(0.35, "chunking report.txt")

	output := buf.String()
	assert.Contains(t, output, "35%")
	assert.Contains(t, output, "chunking report.txt")
	assert.NotContains(t, output, "\n")
}

func TestWriter_Fraction_CompleteTerminatesLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Fraction(1.0, "done")

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriter_Fraction_ClampsOutOfRange(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	assert.NotPanics(t, func() {
		w.Fraction(-0.5, "underflow")
		w.Fraction(1.5, "overflow")
	})
	assert.Contains(t, buf.String(), "  0%")
	assert.Contains(t, buf.String(), "100%")
}

func TestRenderBar_FilledWidths(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		width    int
		wantFull int
	}{
		{name: "empty", ratio: 0, width: 10, wantFull: 0},
		{name: "half", ratio: 0.5, width: 10, wantFull: 5},
		{name: "full", ratio: 1, width: 10, wantFull: 10},
		{name: "quarter", ratio: 0.25, width: 20, wantFull: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderBar(tt.ratio, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}
