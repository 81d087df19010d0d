package conversation

import "sync"

// PendingTable maps conversation id to the Conversation awaiting a client
// resume (spec.md §3's PendingTable). An entry is created when a driver's
// finalize step produces a prompt, and removed when the client resumes,
// the helper closes, or the conversation times out. At most one entry per
// id; the table itself holds one strong reference for the duration of the
// wait (spec.md §9).
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*Conversation
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]*Conversation)}
}

// Put registers conv under its id, retaining a reference on its behalf.
// Overwriting an existing entry for the same id is a caller bug (ids are
// unique per spec.md invariant 5); Put releases the stale entry's
// table-owned reference first so it cannot leak.
func (t *PendingTable) Put(conv *Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[conv.ID]; ok {
		old.Release()
	}
	conv.Retain()
	t.entries[conv.ID] = conv
}

// Get returns the conversation registered under id, if any.
func (t *PendingTable) Get(id string) (*Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[id]
	return c, ok
}

// Remove deletes the entry for id, releasing the table's reference.
// Reports whether an entry was present.
func (t *PendingTable) Remove(id string) bool {
	t.mu.Lock()
	conv, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		conv.Release()
	}
	return ok
}

// Len returns the number of pending conversations — used by the
// process-wide idle timer to decide whether the broker is fully quiescent.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RemoveByConversation removes conv if, and only if, the entry currently
// stored under conv.ID is conv itself — guards against a stale close
// callback purging a newer conversation that happened to reuse the id
// (which cannot happen under spec.md invariant 5, but costs nothing to
// check).
func (t *PendingTable) RemoveByConversation(conv *Conversation) bool {
	t.mu.Lock()
	current, ok := t.entries[conv.ID]
	if !ok || current != conv {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, conv.ID)
	t.mu.Unlock()
	conv.Release()
	return true
}
