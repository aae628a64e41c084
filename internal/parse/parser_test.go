package parse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/errors"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTextParser_SinglePage(t *testing.T) {
	path := writeFile(t, "doc.txt", []byte("hello world"))

	pages, err := NewTextParser().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "hello world", pages[0].Text)
}

func TestTextParser_FormFeedSplitsPages(t *testing.T) {
	path := writeFile(t, "doc.txt", []byte("page one\fpage two\fpage three"))

	pages, err := NewTextParser().Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "page two", pages[1].Text)
	assert.Equal(t, 3, pages[2].Number)
}

func TestTextParser_MissingFile(t *testing.T) {
	_, err := NewTextParser().Parse(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err), "missing input is permanent")
}

func TestTextParser_BinaryInputIsCorrupt(t *testing.T) {
	path := writeFile(t, "doc.bin", []byte{0x00, 0x01, 0x02, 'a'})

	_, err := NewTextParser().Parse(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptInput, errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestTextParser_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTextParser().Parse(ctx, "whatever.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
