package weakmap

import (
	"runtime"
	"weak"
)

// entry is one stored association. The table owns it; the runtime only
// holds it as the argument of the value's cleanup.
//
// An entry is immutable once filed: replacing a key files a fresh entry,
// so pointer identity tells a stale notification apart from the current
// occupant of the slot.
type entry[K ~string, V any] struct {
	key     K
	value   weak.Pointer[V]
	owner   weak.Pointer[table[K, V]]
	cleanup runtime.Cleanup
}

func newEntry[K ~string, V any](
	owner weak.Pointer[table[K, V]],
	key K,
) *entry[K, V] {
	return &entry[K, V]{key: key, owner: owner}
}

// bind registers value as weakly held with e as the cleanup argument.
// Must be called at most once, before e is published in the table.
func (e *entry[K, V]) bind(value *V) {
	e.value = weak.Make(value)
	e.cleanup = runtime.AddCleanup(value, reclaim[K, V], e)
}

// cancel tears down the registration. A cleanup the runtime has already
// queued may still run; reclaim ignores it unless e is still filed.
func (e *entry[K, V]) cancel() {
	e.cleanup.Stop()
}

// load returns a strong reference to the value, or nil once collected.
func (e *entry[K, V]) load() *V {
	return e.value.Value()
}

// reclaim runs on the runtime cleanup goroutine after the value of e has
// been collected. e must not be used after the owner removes it.
func reclaim[K ~string, V any](e *entry[K, V]) {
	t := e.owner.Value()
	if t == nil {
		// The table went first; nothing left to remove from.
		return
	}
	t.removeReclaimed(e)
}
