package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/internal/store"
)

// Default fusion parameters.
const (
	DefaultVectorWeight  = 0.65
	DefaultKeywordWeight = 0.35
	DefaultCandidateK    = 50
	DefaultMaxResults    = 10
)

// MetricsRecorder receives one callback per completed search.
type MetricsRecorder interface {
	RecordSearch(query string, resultCount int, elapsed time.Duration)
}

// Fuser runs hybrid retrieval over a vector and a lexical source.
type Fuser struct {
	vector  VectorAdapter
	lexical LexicalAdapter
	meta    *store.Store
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewFuser creates a hybrid search fuser.
func NewFuser(vector VectorAdapter, lexical LexicalAdapter, meta *store.Store, logger *slog.Logger) *Fuser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuser{vector: vector, lexical: lexical, meta: meta, logger: logger}
}

// SetMetrics installs an optional metrics recorder.
func (f *Fuser) SetMetrics(m MetricsRecorder) {
	f.metrics = m
}

// Search retrieves from both sources in parallel, fuses the candidate
// scores and returns hydrated results, best first.
//
// Per-source scores are min-max normalized to [0,1] within the candidate
// list, then combined as vectorWeight*vecScore + keywordWeight*lexScore.
// A chunk found by only one source contributes zero from the other. Ties
// break toward the lower page number, then the lower chunk index, so
// identical corpora always return identical orderings.
func (f *Fuser) Search(ctx context.Context, opts Options) ([]*Result, error) {
	opts = withDefaults(opts)
	started := time.Now()

	var vectorHits, lexicalHits []Scored
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = f.vector.Retrieve(gctx, opts.ProjectID, opts.DocumentID, opts.Query, opts.CandidateK)
		return err
	})
	if opts.KeywordWeight > 0 {
		g.Go(func() error {
			var err error
			lexicalHits, err = f.lexical.Retrieve(gctx, opts.ProjectID, opts.DocumentID, opts.Query, opts.CandidateK)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(vectorHits, lexicalHits, opts.VectorWeight, opts.KeywordWeight)

	results, err := f.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	elapsed := time.Since(started)
	if f.metrics != nil {
		f.metrics.RecordSearch(opts.Query, len(results), elapsed)
	}
	f.logger.Debug("hybrid_search_complete",
		slog.String("project_id", opts.ProjectID),
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("lexical_hits", len(lexicalHits)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", elapsed))
	return results, nil
}

func withDefaults(opts Options) Options {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.CandidateK <= 0 {
		opts.CandidateK = DefaultCandidateK
	}
	if opts.VectorWeight <= 0 && opts.KeywordWeight <= 0 {
		opts.VectorWeight = DefaultVectorWeight
		opts.KeywordWeight = DefaultKeywordWeight
	}
	return opts
}

// fusedScore carries the combined and per-source normalized scores.
type fusedScore struct {
	total   float64
	vector  float64
	lexical float64
}

func fuse(vectorHits, lexicalHits []Scored, vectorWeight, keywordWeight float64) map[string]*fusedScore {
	vecNorm := minMaxNormalize(vectorHits)
	lexNorm := minMaxNormalize(lexicalHits)

	fused := make(map[string]*fusedScore, len(vecNorm)+len(lexNorm))
	for id, s := range vecNorm {
		fused[id] = &fusedScore{total: vectorWeight * s, vector: s}
	}
	for id, s := range lexNorm {
		if entry, ok := fused[id]; ok {
			entry.total += keywordWeight * s
			entry.lexical = s
		} else {
			fused[id] = &fusedScore{total: keywordWeight * s, lexical: s}
		}
	}
	return fused
}

// minMaxNormalize maps a candidate list's scores onto [0,1].
// A degenerate list where every score is equal normalizes to 1.0, since
// each candidate is the best its source found.
func minMaxNormalize(hits []Scored) map[string]float64 {
	if len(hits) == 0 {
		return nil
	}

	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}

	normalized := make(map[string]float64, len(hits))
	for _, h := range hits {
		if max == min {
			normalized[h.ChunkID] = 1.0
		} else {
			normalized[h.ChunkID] = (h.Score - min) / (max - min)
		}
	}
	return normalized
}

// hydrate loads chunk metadata for the fused candidates. The adapters
// already scoped candidates to the project and optional document.
func (f *Fuser) hydrate(ctx context.Context, fused map[string]*fusedScore) ([]*Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic fetch order

	chunks, err := f.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		score := fused[c.ID]
		results = append(results, &Result{
			ChunkID:      c.ID,
			DocumentID:   c.DocumentID,
			ProjectID:    c.ProjectID,
			PageNumber:   c.PageNumber,
			ChunkIndex:   c.Index,
			Content:      c.Content,
			Score:        score.total,
			VectorScore:  score.vector,
			LexicalScore: score.lexical,
		})
	}
	return results, nil
}

// sortResults orders by fused score descending; ties break toward the
// lower page number, then the lower chunk index, then the chunk ID.
func sortResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})
}
