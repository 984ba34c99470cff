// Package merge implements the ordered reconciliation primitives used by the
// entity stores. All three primitives take a locally-held collection plus an
// authoritative partial list from the host and merge by stable identity,
// without reconstructing the collection.
//
// Common rules:
//   - An incoming item whose identity matches an existing entity is merged
//     into it; otherwise a new entity is constructed and inserted.
//   - An incoming item flagged as removed is a tombstone: the matching entity
//     is deleted rather than merged.
//   - In full-replace mode, existing entities absent from the incoming list
//     are deleted. Outside full-replace mode they are left alone, which is
//     what makes incremental updates safe.
//   - Every primitive reports the set of removed identities so callers can
//     cascade cleanup (e.g. evicting a removed screen's line cache).
package merge

import "sort"

// Spec describes how to reconcile incoming data items of type D into an
// existing collection of entities of type E.
type Spec[E, D any] struct {
	// ID returns the identity of an existing entity.
	ID func(E) string

	// DataID returns the identity of an incoming data item.
	DataID func(D) string

	// Removed reports whether the incoming item is a tombstone.
	Removed func(D) bool

	// Make constructs a new entity from an incoming item with no local match.
	Make func(D) E

	// Merge applies an incoming item to its matching existing entity.
	Merge func(E, D)

	// SortKey is the ordering key for List. The collection is re-sorted
	// after merging because the host may send out-of-order indices; array
	// position is never the ordering authority. A nil SortKey preserves
	// arrival order.
	SortKey func(E) string
}

// List reconciles an ordered collection against an incoming partial list and
// returns the new collection plus the identities that were removed.
func List[E, D any](existing []E, incoming []D, sp Spec[E, D], fullReplace bool) ([]E, map[string]bool) {
	removed := make(map[string]bool)
	byID := make(map[string]int, len(existing))
	for i, e := range existing {
		byID[sp.ID(e)] = i
	}
	seen := make(map[string]bool, len(incoming))
	out := existing
	for _, d := range incoming {
		id := sp.DataID(d)
		seen[id] = true
		if sp.Removed != nil && sp.Removed(d) {
			if idx, ok := byID[id]; ok {
				out = deleteAt(out, idx)
				reindex(out, sp.ID, byID, idx)
				delete(byID, id)
			}
			removed[id] = true
			continue
		}
		if idx, ok := byID[id]; ok {
			sp.Merge(out[idx], d)
			continue
		}
		e := sp.Make(d)
		byID[id] = len(out)
		out = append(out, e)
	}
	if fullReplace {
		kept := out[:0]
		for _, e := range out {
			id := sp.ID(e)
			if seen[id] {
				kept = append(kept, e)
			} else {
				removed[id] = true
			}
		}
		out = kept
	}
	if sp.SortKey != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return sp.SortKey(out[i]) < sp.SortKey(out[j])
		})
	}
	return out, removed
}

// Map reconciles an identity-keyed map against an incoming partial list and
// returns the identities that were removed.
func Map[E, D any](existing map[string]E, incoming []D, sp Spec[E, D], fullReplace bool) map[string]bool {
	removed := make(map[string]bool)
	seen := make(map[string]bool, len(incoming))
	for _, d := range incoming {
		id := sp.DataID(d)
		seen[id] = true
		if sp.Removed != nil && sp.Removed(d) {
			delete(existing, id)
			removed[id] = true
			continue
		}
		if e, ok := existing[id]; ok {
			sp.Merge(e, d)
			continue
		}
		existing[id] = sp.Make(d)
	}
	if fullReplace {
		for id := range existing {
			if !seen[id] {
				delete(existing, id)
				removed[id] = true
			}
		}
	}
	return removed
}

// Simple reconciles a collection of plain value objects that have no merge
// method: matching items are replaced wholesale, tombstones are deleted, and
// the collection is kept sorted by sortKey. Used for line sequences, where
// sortKey is pad(ts):id so that equal timestamps break ties by id.
func Simple[D any](existing []D, incoming []D, id func(D) string, sortKey func(D) string, tombstone func(D) bool) ([]D, map[string]bool) {
	removed := make(map[string]bool)
	byID := make(map[string]int, len(existing))
	for i, d := range existing {
		byID[id(d)] = i
	}
	out := existing
	for _, d := range incoming {
		dID := id(d)
		if tombstone != nil && tombstone(d) {
			if idx, ok := byID[dID]; ok {
				out = deleteAt(out, idx)
				reindex(out, id, byID, idx)
				delete(byID, dID)
			}
			removed[dID] = true
			continue
		}
		if idx, ok := byID[dID]; ok {
			out[idx] = d
			continue
		}
		byID[dID] = len(out)
		out = append(out, d)
	}
	if sortKey != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return sortKey(out[i]) < sortKey(out[j])
		})
	}
	return out, removed
}

// deleteAt removes the element at idx preserving order.
func deleteAt[T any](s []T, idx int) []T {
	copy(s[idx:], s[idx+1:])
	var zero T
	s[len(s)-1] = zero
	return s[:len(s)-1]
}

// reindex fixes the id→index map after a deletion shifted elements left.
func reindex[T any](s []T, idOf func(T) string, byID map[string]int, from int) {
	for i := from; i < len(s); i++ {
		byID[idOf(s[i])] = i
	}
}
