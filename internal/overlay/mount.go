// Package overlay owns the in-page surface of the decoder: the bootstrap
// script served into proxied pages, the HTML injection that carries it, the
// per-document mount registry, and the panel state machine driving analysis
// from user input.
package overlay

import (
	"log/slog"
	"sync"
)

// MountState describes the overlay on one document.
type MountState struct {
	// Mounted is latched: once the overlay is attached it stays attached
	// for the lifetime of the document. There is no teardown path.
	Mounted bool
	// Open tracks whether the panel is expanded or collapsed to the bubble.
	Open bool
}

// Registry tracks mount state per document. The detection side may fire many
// times for the same document (SPA rewrites re-trigger evaluation); the
// registry is what makes mounting idempotent.
type Registry struct {
	mu   sync.Mutex
	docs map[string]*MountState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]*MountState)}
}

// Mount marks the document as mounted. It returns true only on the first
// call for a document; repeated detections return false and change nothing.
func (r *Registry) Mount(docID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.docs[docID]
	if state == nil {
		state = &MountState{}
		r.docs[docID] = state
	}
	if state.Mounted {
		return false
	}
	state.Mounted = true
	slog.Debug("overlay mounted", "doc", docID)
	return true
}

// ToggleOpen flips the panel between expanded and collapsed. It reports the
// new open state and whether the document was mounted at all.
func (r *Registry) ToggleOpen(docID string) (open, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.docs[docID]
	if state == nil || !state.Mounted {
		return false, false
	}
	state.Open = !state.Open
	return state.Open, true
}

// State returns a copy of the document's mount state.
func (r *Registry) State(docID string) MountState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state := r.docs[docID]; state != nil {
		return *state
	}
	return MountState{}
}

// Snapshot returns a copy of all tracked documents and their states.
func (r *Registry) Snapshot() map[string]MountState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]MountState, len(r.docs))
	for id, state := range r.docs {
		out[id] = *state
	}
	return out
}

// Forget drops a document, typically when its session disconnects. A page
// reload produces a fresh document that must mount from scratch.
func (r *Registry) Forget(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, docID)
}

// Count returns the number of tracked documents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
