package weakmap

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/llxisdsh/pb"
	"golang.org/x/sync/singleflight"
)

// Map is a concurrent associative map whose values are held weakly.
//
// Storing a value does not keep it alive: once the garbage collector finds
// a value unreachable except through the map, the entry filed under its
// key is dropped without an explicit Delete. Keys are held strongly and
// compared by content.
//
// Core properties:
//   - Values are never revived; Get on a collected value reports absence
//   - Replacing a key cancels the previous value's registration first, so
//     collecting an old value never removes the entry that replaced it
//   - Safe for concurrent use; every mutation of a key, including removal
//     on reclamation, is serialized on that key's bucket
//
// Usage recommendations:
//   - Direct declaration: var m Map[string, Image]
//   - Pre-allocate capacity: New[string, Image](WithCapacity(1000))
//
// Notes:
//   - Map must not be copied after first use.
//   - Values must not be tiny pointer-free objects (under 16 bytes); the
//     runtime may never report those as collected, so their entries stay
//     until deleted.
//   - Values must not point to package-level variables. On Go 1.24,
//     weak.Make aborts the process for such pointers ("getWeakHandle on
//     invalid pointer"); later releases accept them but never collect them.
type Map[K ~string, V any] struct {
	_      noCopy
	initMu sync.Mutex
	table  atomic.Pointer[table[K, V]]
}

// table is the backing state of a Map. It is allocated separately so that
// entries can refer to it weakly.
type table[K ~string, V any] struct {
	entries   *pb.MapOf[K, *entry[K, V]]
	self      weak.Pointer[table[K, V]]
	flights   singleflight.Group
	onReclaim func(key string)
}

// New creates a new Map instance. Direct declaration is also supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithReclaimHook)
func New[K ~string, V any](options ...func(*MapConfig)) *Map[K, V] {
	m := &Map[K, V]{}
	var cfg MapConfig
	for _, o := range options {
		o(&cfg)
	}
	m.table.Store(newTable[K, V](&cfg))
	return m
}

func newTable[K ~string, V any](cfg *MapConfig) *table[K, V] {
	t := &table[K, V]{
		entries:   pb.NewMapOf[K, *entry[K, V]](pb.WithPresize(cfg.capacity)),
		onReclaim: cfg.onReclaim,
	}
	t.self = weak.Make(t)
	return t
}

// load returns the table, or nil if the map was never written to.
func (m *Map[K, V]) load() *table[K, V] {
	return m.table.Load()
}

// init returns the table, creating it with the default configuration on
// first write to a zero Map.
func (m *Map[K, V]) init() *table[K, V] {
	if t := m.table.Load(); t != nil {
		return t
	}
	return m.initSlow()
}

//go:noinline
func (m *Map[K, V]) initSlow() *table[K, V] {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	t := m.table.Load()
	if t != nil {
		// Someone got to it while we were waiting.
		return t
	}
	var cfg MapConfig
	t = newTable[K, V](&cfg)
	m.table.Store(t)
	return t
}

// Size returns the number of entries filed in the map. This is an O(1)
// operation.
//
// Size can be higher than the number of keys for which Has reports true:
// an entry whose value was just collected is counted until its cleanup
// runs. Call Sweep first for an exact count of live values.
func (m *Map[K, V]) Size() int {
	t := m.load()
	if t == nil {
		return 0
	}
	return t.entries.Size()
}

// Has reports whether key is filed and its value has not been collected.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Get returns the value stored under key. The returned pointer is an
// ordinary strong reference; the map itself never extends the value's
// lifetime.
func (m *Map[K, V]) Get(key K) (value *V, ok bool) {
	t := m.load()
	if t == nil {
		return nil, false
	}
	e, ok := t.entries.Load(key)
	if !ok {
		return nil, false
	}
	if value = e.load(); value == nil {
		return nil, false
	}
	return value, true
}

// Set stores value under key and returns m for chaining.
//
// If key is already filed, the old registration is cancelled before the
// new one is installed, atomically with respect to reclamation of the old
// value. A nil value deletes key.
func (m *Map[K, V]) Set(key K, value *V) *Map[K, V] {
	if value == nil {
		m.Delete(key)
		return m
	}
	t := m.init()
	e := newEntry(t.self, key)
	t.entries.ProcessEntry(
		key,
		func(l *pb.EntryOf[K, *entry[K, V]]) (*pb.EntryOf[K, *entry[K, V]], *entry[K, V], bool) {
			if l != nil {
				l.Value.cancel()
			}
			e.bind(value)
			return &pb.EntryOf[K, *entry[K, V]]{Value: e}, e, l != nil
		},
	)
	runtime.KeepAlive(value)
	return m
}

// Delete removes key and cancels its registration. It reports whether key
// was present with a live value; when it reports false the table is left
// unchanged. An entry whose value was already collected is left to its
// pending cleanup, which removes it and fires the reclaim hook.
func (m *Map[K, V]) Delete(key K) bool {
	t := m.load()
	if t == nil {
		return false
	}
	_, deleted := t.entries.ProcessEntry(
		key,
		func(l *pb.EntryOf[K, *entry[K, V]]) (*pb.EntryOf[K, *entry[K, V]], *entry[K, V], bool) {
			if l == nil {
				return nil, nil, false
			}
			if l.Value.load() == nil {
				return l, nil, false
			}
			l.Value.cancel()
			return nil, l.Value, true
		},
	)
	return deleted
}

// LoadOrStore returns the live value filed under key if there is one.
// Otherwise it stores value, replacing an entry whose value was already
// collected, and returns it. The loaded result is true if the value was
// loaded, false if stored.
//
// A nil value is never stored: LoadOrStore(key, nil) is a plain lookup.
func (m *Map[K, V]) LoadOrStore(key K, value *V) (actual *V, loaded bool) {
	if value == nil {
		return m.Get(key)
	}
	t := m.init()
	e := newEntry(t.self, key)
	var old *V
	_, loaded = t.entries.ProcessEntry(
		key,
		func(l *pb.EntryOf[K, *entry[K, V]]) (*pb.EntryOf[K, *entry[K, V]], *entry[K, V], bool) {
			if l != nil {
				if old = l.Value.load(); old != nil {
					return l, l.Value, true
				}
				l.Value.cancel()
			}
			e.bind(value)
			return &pb.EntryOf[K, *entry[K, V]]{Value: e}, e, false
		},
	)
	if loaded {
		return old, true
	}
	return value, false
}

// LoadOrCompute returns the live value filed under key, or calls fn to
// construct one and stores it.
//
// Concurrent callers missing on the same key share a single fn call and
// its result. If fn returns an error, nothing is stored and the error is
// returned to every waiting caller. If fn returns a nil value, it is
// returned without being stored.
func (m *Map[K, V]) LoadOrCompute(
	key K,
	fn func() (*V, error),
) (*V, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	t := m.init()
	r, err, _ := t.flights.Do(string(key), func() (any, error) {
		if v, ok := m.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil || v == nil {
			return v, err
		}
		actual, _ := m.LoadOrStore(key, v)
		return actual, nil
	})
	v, _ := r.(*V)
	return v, err
}

// Range calls yield for each key with a live value, compatible with
// `sync.Map`. Each value is a strong reference for the duration of the
// call. Range does not block other operations; entries stored or removed
// concurrently may or may not be visited.
func (m *Map[K, V]) Range(yield func(key K, value *V) bool) {
	t := m.load()
	if t == nil {
		return
	}
	t.entries.Range(func(key K, e *entry[K, V]) bool {
		v := e.load()
		if v == nil {
			return true
		}
		return yield(key, v)
	})
}

// All returns an iterator over the live entries, for use with
// range-over-func.
func (m *Map[K, V]) All() func(yield func(K, *V) bool) {
	return m.Range
}

// Keys returns a snapshot of the keys whose values are live.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Size())
	m.Range(func(key K, _ *V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Clear deletes every entry, cancelling all registrations. Entries whose
// values were already collected are removed as by Sweep.
func (m *Map[K, V]) Clear() {
	t := m.load()
	if t == nil {
		return
	}
	t.entries.Range(func(key K, e *entry[K, V]) bool {
		if !m.Delete(key) {
			t.removeReclaimed(e)
		}
		return true
	})
}

// Sweep removes entries whose values have been collected but whose
// cleanups have not run yet, and returns how many it removed. The reclaim
// hook fires for each of them.
//
// Sweep is never required for correctness; it makes Size exact after a
// forced collection.
func (m *Map[K, V]) Sweep() int {
	t := m.load()
	if t == nil {
		return 0
	}
	var dead []*entry[K, V]
	t.entries.Range(func(_ K, e *entry[K, V]) bool {
		if e.load() == nil {
			dead = append(dead, e)
		}
		return true
	})
	n := 0
	for _, e := range dead {
		if t.removeReclaimed(e) {
			n++
		}
	}
	return n
}

// removeReclaimed erases the slot for e.key if, and only if, it still
// holds e. A stale notification for a replaced or deleted entry finds a
// different occupant, or none, and is a no-op.
func (t *table[K, V]) removeReclaimed(e *entry[K, V]) bool {
	_, removed := t.entries.ProcessEntry(
		e.key,
		func(l *pb.EntryOf[K, *entry[K, V]]) (*pb.EntryOf[K, *entry[K, V]], *entry[K, V], bool) {
			if l == nil || l.Value != e {
				return l, nil, false
			}
			// Sweep may get here before the runtime does.
			e.cancel()
			return nil, e, true
		},
	)
	if removed && t.onReclaim != nil {
		t.onReclaim(string(e.key))
	}
	return removed
}
