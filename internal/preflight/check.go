// Package preflight validates the environment before serving: writable
// directories, free disk space and embedding provider reachability.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/embed"
)

// CheckStatus is the result of a single check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs preflight checks against a configuration.
type Checker struct {
	cfg      *config.Config
	embedder embed.Embedder
}

// New creates a Checker. The embedder may be nil to skip the provider
// check.
func New(cfg *config.Config, embedder embed.Embedder) *Checker {
	return &Checker{cfg: cfg, embedder: embedder}
}

// RunAll runs every check and returns the results.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckWritable("data_dir", c.cfg.Paths.DataDir, true),
		c.CheckDiskSpace(c.cfg.Paths.DataDir),
	}
	if c.cfg.Paths.InboxDir != "" {
		results = append(results, c.CheckWritable("inbox_dir", c.cfg.Paths.InboxDir, true))
	}
	if c.embedder != nil {
		results = append(results, c.CheckEmbedder(ctx))
	}
	return results
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckWritable verifies the directory exists (creating it if needed)
// and accepts writes.
func (c *Checker) CheckWritable(name, dir string, required bool) CheckResult {
	result := CheckResult{Name: name, Required: required}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	marker := filepath.Join(dir, ".docforge-preflight")
	f, err := os.Create(marker)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(marker)

	result.Status = StatusPass
	result.Message = dir
	return result
}

// CheckEmbedder verifies the embedding provider answers. Failure is a
// warning: embedding tasks retry with backoff until the provider comes
// up.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "embedder", Required: false}

	if c.embedder.Available(ctx) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s ready (%d dimensions)", c.embedder.ModelName(), c.embedder.Dimensions())
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("%s unreachable, embedding tasks will retry", c.embedder.ModelName())
	return result
}
