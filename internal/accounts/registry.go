package accounts

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds the canonical client-side view of all accounts for one
// user. Every mutation goes through the tolerant matcher so realtime events,
// REST payloads and optimistic local updates referring to the same logical
// account by different id fields never create duplicates.
type Registry struct {
	mu    sync.RWMutex
	items []Account
}

func NewRegistry() *Registry {
	return &Registry{}
}

// indexOf returns the position of the first entry matching id, or -1. Caller
// must hold the lock.
func (r *Registry) indexOf(id string) int {
	for i := range r.items {
		if r.items[i].Matches(id) {
			return i
		}
	}
	return -1
}

// List returns a copy of all entries in insertion order.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Find returns the entry matching id by either id field.
func (r *Registry) Find(id string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.items[i], true
	}
	return Account{}, false
}

// CountByStatus returns how many entries currently hold st.
func (r *Registry) CountByStatus(st Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for i := range r.items {
		if r.items[i].Status == st {
			n++
		}
	}
	return n
}

// Replace swaps the full entry set, used after an authoritative fetch.
func (r *Registry) Replace(list []Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make([]Account, len(list))
	for i := range list {
		r.items[i] = clampInvariants(list[i])
	}
}

// Upsert applies a partial mutation using the tolerant matcher. When no
// entry matches either id field a new entry is appended (this covers the
// create flow, where the server response is the first time the client learns
// the assigned id). The updated entry is returned.
func (r *Registry) Upsert(patch AccountPatch) Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(patch.AccountID)
	if i < 0 {
		i = r.indexOf(patch.ID)
	}
	if i < 0 {
		a := Account{ID: patch.ID, AccountID: patch.AccountID, Status: StatusDisconnected}
		if a.AccountID == "" {
			a.AccountID = a.ID
		}
		r.items = append(r.items, a)
		i = len(r.items) - 1
	}

	a := r.items[i]
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.PhoneNumber != nil {
		a.PhoneNumber = *patch.PhoneNumber
	}
	if patch.QRCode != nil {
		a.QRCode = *patch.QRCode
	}
	a = clampInvariants(a)
	r.items[i] = a
	return a
}

// UpsertAccount inserts or overwrites a full account value by tolerant match.
func (r *Registry) UpsertAccount(acct Account) Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct = clampInvariants(acct)
	if i := r.indexOf(acct.AccountID); i >= 0 {
		r.items[i] = acct
		return acct
	}
	if i := r.indexOf(acct.ID); i >= 0 {
		r.items[i] = acct
		return acct
	}
	r.items = append(r.items, acct)
	return acct
}

// Remove deletes the entry matching id. It reports whether an entry was
// removed; an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	return true
}

// Apply folds a lifecycle event into the matching entry through Transition.
// When no entry matches and createIfMissing is set, a fresh entry is created
// first (covers events for accounts created elsewhere). It returns the
// before/after values and whether anything was applied.
func (r *Registry) Apply(ev Event, createIfMissing bool) (before, after Account, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(ev.AccountID)
	if i < 0 {
		if !createIfMissing {
			return Account{}, Account{}, false
		}
		r.items = append(r.items, Account{
			ID:        ev.AccountID,
			AccountID: ev.AccountID,
			Name:      ev.AccountName,
			Status:    StatusDisconnected,
		})
		i = len(r.items) - 1
	}

	before = r.items[i]
	after = Transition(before, ev)
	if ev.AccountName != "" && after.Name == "" {
		after.Name = ev.AccountName
	}
	r.items[i] = after
	return before, after, true
}

// ReconcileServer upgrades local entries still in connecting whose server
// counterpart already shows connected; a realtime connected event was missed
// and the fetch is the only remaining signal. It is a one-way ratchet: it
// never downgrades a connected entry and never touches entries outside
// connecting. The upgraded entries are returned.
func (r *Registry) ReconcileServer(server []Account) []Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	var upgraded []Account
	for i := range r.items {
		if r.items[i].Status != StatusConnecting {
			continue
		}
		for j := range server {
			sv := server[j]
			if sv.Status != StatusConnected {
				continue
			}
			if !r.items[i].Matches(sv.AccountID) && !r.items[i].Matches(sv.ID) {
				continue
			}
			next := Transition(r.items[i], Event{
				Kind:        EventConnected,
				AccountID:   r.items[i].Key(),
				PhoneNumber: sv.PhoneNumber,
			})
			zap.L().Debug("registry: reconcile upgraded connecting entry",
				zap.String("account_id", r.items[i].Key()))
			r.items[i] = next
			upgraded = append(upgraded, next)
			break
		}
	}
	return upgraded
}
