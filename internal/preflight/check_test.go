package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/embed"
)

func TestCheckWritable_CreatesAndPasses(t *testing.T) {
	c := New(config.NewConfig(), nil)
	dir := filepath.Join(t.TempDir(), "data")

	result := c.CheckWritable("data_dir", dir, true)

	assert.Equal(t, StatusPass, result.Status)
	assert.DirExists(t, dir)
}

func TestCheckWritable_FailsWhenPathIsFile(t *testing.T) {
	c := New(config.NewConfig(), nil)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	result := c.CheckWritable("data_dir", filepath.Join(blocker, "sub"), true)

	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestCheckDiskSpace_TempDirPasses(t *testing.T) {
	c := New(config.NewConfig(), nil)

	result := c.CheckDiskSpace(t.TempDir())

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "free")
}

func TestCheckEmbedder_StaticAlwaysReady(t *testing.T) {
	cfg := config.NewConfig()
	c := New(cfg, embed.NewStaticEmbedder(64))

	result := c.CheckEmbedder(context.Background())

	assert.Equal(t, StatusPass, result.Status)
	assert.False(t, result.Required)
}

func TestRunAll_CoversConfiguredDirs(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Paths.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Paths.InboxDir = filepath.Join(t.TempDir(), "inbox")
	c := New(cfg, embed.NewStaticEmbedder(64))

	results := c.RunAll(context.Background())

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "data_dir")
	assert.Contains(t, names, "inbox_dir")
	assert.Contains(t, names, "disk_space")
	assert.Contains(t, names, "embedder")
	assert.False(t, HasCriticalFailures(results))
}

func TestHasCriticalFailures(t *testing.T) {
	assert.False(t, HasCriticalFailures([]CheckResult{
		{Status: StatusWarn, Required: false},
		{Status: StatusFail, Required: false},
	}))
	assert.True(t, HasCriticalFailures([]CheckResult{
		{Status: StatusFail, Required: true},
	}))
}
