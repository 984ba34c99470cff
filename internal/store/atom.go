package store

import "sync"

// Atom is a small observable value container: explicit get/set/subscribe
// instead of hidden reactive bindings. The render layer subscribes to the
// atoms it cares about; the merge engine sets them at the end of a merge
// pass so observers never see partial intermediate state.
type Atom[T any] struct {
	mu      sync.Mutex
	value   T
	nextSub int
	subs    map[int]func(T)
}

// NewAtom creates an atom holding the given initial value.
func NewAtom[T any](initial T) *Atom[T] {
	return &Atom[T]{value: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (a *Atom[T]) Get() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Set stores a new value and notifies all subscribers synchronously.
func (a *Atom[T]) Set(v T) {
	a.mu.Lock()
	a.value = v
	subs := make([]func(T), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers a callback invoked on every Set. The returned
// function removes the subscription.
func (a *Atom[T]) Subscribe(fn func(T)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}
