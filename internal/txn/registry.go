package txn

import (
	"sync"

	"github.com/google/uuid"
)

// Entry wraps a ParticipantContext with the per-transaction lock that
// serializes every mutation, plus the transient decision waiter. The
// registry map tolerates concurrent structural access; field mutation goes
// through Lock/Unlock.
type Entry struct {
	mu sync.Mutex

	// Context is the durable state mirrored by the journal record.
	Context *ParticipantContext
	// Waiter is completed when a COMMIT or ABORT is applied; nil until an
	// in-doubt path arms it.
	Waiter *Latch
	// Escalating guards against arming more than one escalation loop.
	Escalating bool
}

// Lock serializes mutations of this transaction's state.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the per-transaction lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Registry is the process-wide map from transaction id to participant
// state.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*Entry)}
}

// Get returns the entry for id, if present.
func (r *Registry) Get(id uuid.UUID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Install registers ctx and returns its entry. An existing entry for the
// same id is returned unchanged so duplicate installs cannot fork state.
func (r *Registry) Install(ctx *ParticipantContext) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[ctx.TransactionID]; ok {
		return e
	}
	e := &Entry{Context: ctx}
	r.entries[ctx.TransactionID] = e
	return e
}

// Delete removes the entry for id. Deleting an absent id is a no-op.
func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of live transactions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
