package accounts

import (
	"sort"
	"sync"
)

// PendingTracker mirrors the server-side set of accounts with an outstanding
// "please reconnect" notification. The server is the only source that can
// add entries; local events may optimistically remove one, but the next
// SyncFromServer always wins.
type PendingTracker struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewPendingTracker() *PendingTracker {
	return &PendingTracker{ids: make(map[string]struct{})}
}

// SyncFromServer replaces the set with the authoritative server value.
func (p *PendingTracker) SyncFromServer(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			p.ids[id] = struct{}{}
		}
	}
}

// ClearLocal optimistically removes id (used on connected / session-reset
// events). Additions never happen locally.
func (p *PendingTracker) ClearLocal(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, id)
}

// Has reports whether the account is pending, matching either id field.
func (p *PendingTracker) Has(a Account) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.ids[a.AccountID]; ok {
		return true
	}
	_, ok := p.ids[a.ID]
	return ok
}

// HasID reports whether the bare id is in the set.
func (p *PendingTracker) HasID(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ids[id]
	return ok
}

// List returns the pending ids, sorted for stable output.
func (p *PendingTracker) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the set size.
func (p *PendingTracker) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}
