// Package pipeline implements the task handlers behind the queue: the
// document processing state machine, canvas graph extraction and the
// canvas maintenance tasks.
package pipeline

import (
	"sync"
	"time"

	"github.com/docforge/docforge/internal/store"
)

// ProgressEvent is one observable step of a document's processing run.
type ProgressEvent struct {
	DocumentID string               `json:"document_id"`
	ProjectID  string               `json:"project_id"`
	Status     store.DocumentStatus `json:"status"`
	Stage      store.Stage          `json:"stage,omitempty"`
	Progress   float64              `json:"progress"`
	Message    string               `json:"message,omitempty"`
	ErrorCode  string               `json:"error_code,omitempty"`
	At         time.Time            `json:"at"`
}

// ProgressBroadcaster fans progress events out to subscribers and keeps
// the latest event per document for late joiners.
type ProgressBroadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan ProgressEvent
	nextID int
	latest map[string]ProgressEvent
}

// NewProgressBroadcaster creates an empty broadcaster.
func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{
		subs:   make(map[int]chan ProgressEvent),
		latest: make(map[string]ProgressEvent),
	}
}

// Subscribe returns a channel of future events and an unsubscribe
// function. Slow subscribers drop events rather than stalling handlers.
func (b *ProgressBroadcaster) Subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ProgressEvent, 64)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish records and fans out an event.
func (b *ProgressBroadcaster) Publish(ev ProgressEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	b.latest[ev.DocumentID] = ev
	subs := make([]chan ProgressEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Snapshot returns the latest event for a document, if any.
func (b *ProgressBroadcaster) Snapshot(documentID string) (ProgressEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.latest[documentID]
	return ev, ok
}
