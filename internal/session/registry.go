package session

import (
	"sync"

	"wagate/internal/bridge"
)

// Readiness reports how far a registry entry has progressed. The values
// double as the status strings of the HTTP surface.
type Readiness string

const (
	ReadinessAbsent  Readiness = "not_found"
	ReadinessPending Readiness = "pending"
	ReadinessReady   Readiness = "ready"
)

type entry struct {
	handle bridge.Client
	qr     string
	ready  bool
}

// Registry is the process-local map from session id to live connection state.
// It is ephemeral: entries never survive a restart and are rebuilt from the
// session store plus on-disk credentials. Only the lifecycle controller
// mutates it; the delivery worker and HTTP handlers read.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Set registers a not-yet-ready entry for a freshly constructed connection.
func (r *Registry) Set(sessionID string, handle bridge.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = &entry{handle: handle}
}

// Get returns the live connection handle, or nil when the session is absent.
func (r *Registry) Get(sessionID string) bridge.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sessionID]; ok {
		return e.handle
	}
	return nil
}

// ReadyClient returns the connection handle only once the session has
// reached ready. Pending sessions return nil so callers treat them the
// same as absent ones.
func (r *Registry) ReadyClient(sessionID string) bridge.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sessionID]; ok && e.ready {
		return e.handle
	}
	return nil
}

// SetQR stores the latest rendered pairing code for a pending session.
func (r *Registry) SetQR(sessionID, qr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		e.qr = qr
	}
}

// QR returns the latest rendered pairing code, empty once ready or absent.
func (r *Registry) QR(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[sessionID]; ok {
		return e.qr
	}
	return ""
}

// MarkReady flips the entry to ready and drops its pairing code.
func (r *Registry) MarkReady(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		e.ready = true
		e.qr = ""
	}
}

// Readiness reports the entry state for status queries.
func (r *Registry) Readiness(sessionID string) Readiness {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	switch {
	case !ok:
		return ReadinessAbsent
	case e.ready:
		return ReadinessReady
	default:
		return ReadinessPending
	}
}

// Clear drops the entry entirely.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}
