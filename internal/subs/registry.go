// Package subs tracks the set of instrument tokens the service currently
// wants from the upstream feed.
package subs

import (
	"sort"
	"sync"
)

// Registry is a thread-safe, idempotent set of desired instrument tokens.
//
// Control-plane callers mutate it through Add and Remove while the ingestion
// orchestrator reads Current to reconcile with the upstream feed. The
// registry retains the desired set even when no feed connection exists so it
// can be replayed in full on (re)connect.
type Registry struct {
	mu       sync.Mutex
	tokens   map[uint32]struct{}
	onChange func(current []uint32)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[uint32]struct{})}
}

// SetOnChange installs a callback invoked with the full current set after
// every mutating Add or Remove. The callback runs outside the registry lock.
func (r *Registry) SetOnChange(fn func(current []uint32)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add inserts tokens into the set. Adding an already-present token is a
// no-op at the set level. Returns true when the set actually changed.
func (r *Registry) Add(tokens ...uint32) bool {
	r.mu.Lock()
	changed := false
	for _, tok := range tokens {
		if _, ok := r.tokens[tok]; !ok {
			r.tokens[tok] = struct{}{}
			changed = true
		}
	}
	current, fn := r.currentLocked(), r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(current)
	}
	return changed
}

// Remove deletes tokens from the set. Removing an absent token is a no-op.
// Returns true when the set actually changed.
func (r *Registry) Remove(tokens ...uint32) bool {
	r.mu.Lock()
	changed := false
	for _, tok := range tokens {
		if _, ok := r.tokens[tok]; ok {
			delete(r.tokens, tok)
			changed = true
		}
	}
	current, fn := r.currentLocked(), r.onChange
	r.mu.Unlock()

	if changed && fn != nil {
		fn(current)
	}
	return changed
}

// Current returns a sorted copy of the desired token set.
func (r *Registry) Current() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

// Contains reports whether token is in the set.
func (r *Registry) Contains(token uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[token]
	return ok
}

// Len returns the size of the set.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *Registry) currentLocked() []uint32 {
	out := make([]uint32, 0, len(r.tokens))
	for tok := range r.tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
