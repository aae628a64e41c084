package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/task"
)

// Graph extraction parameters.
const (
	graphKeywordLimit  = 12
	graphMinTokenLen   = 4
	graphMinOccurrence = 2
)

// graphStopWords filters filler words out of keyword extraction.
var graphStopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"were": true, "they": true, "their": true, "which": true, "would": true,
	"there": true, "been": true, "about": true, "these": true, "when": true,
	"into": true, "also": true, "other": true, "more": true, "some": true,
	"than": true, "then": true, "them": true, "will": true, "each": true,
	"such": true, "only": true, "over": true, "most": true, "between": true,
}

// HandleExtractGraph builds a keyword co-occurrence graph from a
// document's chunks and merges it into the project canvas under
// optimistic locking. Rebuilding for a document replaces its previous
// nodes, so re-extraction stays idempotent.
func (p *Pipeline) HandleExtractGraph(ctx context.Context, t *task.Task) error {
	payload, err := task.DecodePayload[task.ExtractGraphPayload](t)
	if err != nil {
		return err
	}

	chunks, err := p.meta.GetChunksByDocument(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		p.logger.Info("extract_graph_no_chunks",
			slog.String("document_id", payload.DocumentID))
		return nil
	}

	nodes, edges := buildKeywordGraph(payload.DocumentID, chunks)

	_, err = p.updateCanvas(ctx, payload.ProjectID, func(doc *CanvasDoc) error {
		doc.removeDocument(payload.DocumentID)
		doc.mergeNodes(nodes, edges)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("graph_extracted",
		slog.String("document_id", payload.DocumentID),
		slog.Int("nodes", len(nodes)),
		slog.Int("edges", len(edges)))
	return nil
}

// buildKeywordGraph scores keywords by frequency across the document's
// chunks and connects keywords that co-occur within a chunk.
func buildKeywordGraph(documentID string, chunks []*store.DocumentChunk) ([]CanvasNode, []CanvasEdge) {
	freq := make(map[string]int)
	perChunk := make([]map[string]bool, len(chunks))
	for i, c := range chunks {
		seen := make(map[string]bool)
		for _, token := range tokenize(c.Content) {
			freq[token]++
			seen[token] = true
		}
		perChunk[i] = seen
	}

	keywords := topKeywords(freq, graphKeywordLimit)
	if len(keywords) == 0 {
		return nil, nil
	}
	selected := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		selected[kw] = true
	}

	nodes := make([]CanvasNode, 0, len(keywords))
	for _, kw := range keywords {
		nodes = append(nodes, CanvasNode{
			ID:         graphNodeID(documentID, kw),
			Label:      kw,
			Kind:       "keyword",
			DocumentID: documentID,
			Weight:     float64(freq[kw]),
		})
	}

	cooc := make(map[[2]string]int)
	for _, seen := range perChunk {
		var present []string
		for kw := range seen {
			if selected[kw] {
				present = append(present, kw)
			}
		}
		sort.Strings(present)
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				cooc[[2]string{present[i], present[j]}]++
			}
		}
	}

	pairs := make([][2]string, 0, len(cooc))
	for pair := range cooc {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	edges := make([]CanvasEdge, 0, len(pairs))
	for _, pair := range pairs {
		edges = append(edges, CanvasEdge{
			Source: graphNodeID(documentID, pair[0]),
			Target: graphNodeID(documentID, pair[1]),
			Weight: float64(cooc[pair]),
		})
	}
	return nodes, edges
}

func graphNodeID(documentID, keyword string) string {
	return fmt.Sprintf("%s:%s", documentID, keyword)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < graphMinTokenLen || graphStopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// topKeywords returns up to limit keywords seen at least
// graphMinOccurrence times, most frequent first, alphabetical within a
// frequency.
func topKeywords(freq map[string]int, limit int) []string {
	var keywords []string
	for kw, n := range freq {
		if n >= graphMinOccurrence {
			keywords = append(keywords, kw)
		}
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}
