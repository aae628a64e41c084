package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docforge/docforge/internal/errors"
	"github.com/docforge/docforge/internal/task"
)

// canvasWriteRetries bounds optimistic-lock retries for canvas tasks.
// Conflicts resolve by re-reading and re-applying, so a handful of
// retries outlasts any realistic contention.
const canvasWriteRetries = 5

// CanvasNode is one node of the project knowledge canvas.
type CanvasNode struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Kind       string  `json:"kind"`
	DocumentID string  `json:"document_id,omitempty"`
	Weight     float64 `json:"weight"`
}

// CanvasEdge links two canvas nodes.
type CanvasEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// CanvasDoc is the JSON document stored per project.
type CanvasDoc struct {
	Nodes []CanvasNode `json:"nodes"`
	Edges []CanvasEdge `json:"edges"`
}

func decodeCanvas(data []byte) (*CanvasDoc, error) {
	doc := &CanvasDoc{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCorruptInput, err)
	}
	return doc, nil
}

func (d *CanvasDoc) encode() ([]byte, error) {
	return json.Marshal(d)
}

// mergeNodes adds nodes and edges, replacing nodes that share an ID.
func (d *CanvasDoc) mergeNodes(nodes []CanvasNode, edges []CanvasEdge) {
	byID := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		byID[n.ID] = i
	}
	for _, n := range nodes {
		if i, ok := byID[n.ID]; ok {
			d.Nodes[i] = n
		} else {
			byID[n.ID] = len(d.Nodes)
			d.Nodes = append(d.Nodes, n)
		}
	}

	seen := make(map[[2]string]int, len(d.Edges))
	for i, e := range d.Edges {
		seen[[2]string{e.Source, e.Target}] = i
	}
	for _, e := range edges {
		if i, ok := seen[[2]string{e.Source, e.Target}]; ok {
			d.Edges[i] = e
		} else {
			seen[[2]string{e.Source, e.Target}] = len(d.Edges)
			d.Edges = append(d.Edges, e)
		}
	}
}

// removeDocument drops every node tagged with documentID and any edge
// touching a dropped node.
func (d *CanvasDoc) removeDocument(documentID string) (removed int) {
	dropped := make(map[string]bool)
	kept := d.Nodes[:0]
	for _, n := range d.Nodes {
		if n.DocumentID == documentID {
			dropped[n.ID] = true
			removed++
			continue
		}
		kept = append(kept, n)
	}
	d.Nodes = kept

	keptEdges := d.Edges[:0]
	for _, e := range d.Edges {
		if dropped[e.Source] || dropped[e.Target] {
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	d.Edges = keptEdges
	return removed
}

// removeKind drops every node of the given kind and any edge touching a
// dropped node.
func (d *CanvasDoc) removeKind(kind string) (removed int) {
	dropped := make(map[string]bool)
	kept := d.Nodes[:0]
	for _, n := range d.Nodes {
		if n.Kind == kind {
			dropped[n.ID] = true
			removed++
			continue
		}
		kept = append(kept, n)
	}
	d.Nodes = kept

	keptEdges := d.Edges[:0]
	for _, e := range d.Edges {
		if dropped[e.Source] || dropped[e.Target] {
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	d.Edges = keptEdges
	return removed
}

// updateCanvas applies mutate under optimistic locking, retrying on
// version conflicts. mutate sees the freshly read canvas on every try.
func (p *Pipeline) updateCanvas(ctx context.Context, projectID string, mutate func(*CanvasDoc) error) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < canvasWriteRetries; attempt++ {
		canvas, err := p.meta.GetCanvas(ctx, projectID)
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeInternal, err)
		}
		doc, err := decodeCanvas(canvas.Data)
		if err != nil {
			return 0, err
		}
		if err := mutate(doc); err != nil {
			return 0, err
		}
		data, err := doc.encode()
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeInternal, err)
		}

		version, err := p.meta.SaveCanvas(ctx, projectID, data, canvas.Version)
		if err == nil {
			return version, nil
		}
		if errors.GetCode(err) != errors.ErrCodeVersionConflict {
			return 0, err
		}
		lastErr = err
		p.logger.Debug("canvas_version_conflict_retry",
			slog.String("project_id", projectID),
			slog.Int("attempt", attempt+1))
	}
	return 0, lastErr
}

// HandleSyncCanvas saves a caller-provided canvas payload. The payload
// replaces the stored canvas wholesale; optimistic locking still guards
// against concurrent graph merges.
func (p *Pipeline) HandleSyncCanvas(ctx context.Context, t *task.Task) error {
	payload, err := task.DecodePayload[task.SyncCanvasPayload](t)
	if err != nil {
		return err
	}

	incoming, err := decodeCanvas(payload.Data)
	if err != nil {
		return err
	}

	version, err := p.updateCanvas(ctx, payload.ProjectID, func(doc *CanvasDoc) error {
		*doc = *incoming
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("canvas_synced",
		slog.String("project_id", payload.ProjectID),
		slog.Int64("version", version))
	return nil
}

// ClearCanvas empties a project's canvas. A non-empty kind removes only
// nodes of that kind (and edges touching them); an empty kind clears
// everything. The write goes through the optimistic save path, so
// concurrent graph merges are never silently dropped.
func (p *Pipeline) ClearCanvas(ctx context.Context, projectID, kind string) error {
	var removed int
	version, err := p.updateCanvas(ctx, projectID, func(doc *CanvasDoc) error {
		if kind == "" {
			removed = len(doc.Nodes)
			doc.Nodes = nil
			doc.Edges = nil
			return nil
		}
		removed = doc.removeKind(kind)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("canvas_cleared",
		slog.String("project_id", projectID),
		slog.String("kind", kind),
		slog.Int("nodes_removed", removed),
		slog.Int64("version", version))
	return nil
}

// HandleCleanupCanvas removes a deleted document's nodes from the
// project canvas.
func (p *Pipeline) HandleCleanupCanvas(ctx context.Context, t *task.Task) error {
	payload, err := task.DecodePayload[task.CleanupCanvasPayload](t)
	if err != nil {
		return err
	}

	var removed int
	_, err = p.updateCanvas(ctx, payload.ProjectID, func(doc *CanvasDoc) error {
		removed = doc.removeDocument(payload.DocumentID)
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("canvas_document_cleaned",
		slog.String("project_id", payload.ProjectID),
		slog.String("document_id", payload.DocumentID),
		slog.Int("nodes_removed", removed))
	return nil
}
