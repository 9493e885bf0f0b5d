// Package binding exposes a weakmap.Map to dynamically typed callers.
//
// Keys arrive as any and are converted to canonical text before the table
// is consulted; a key that cannot be converted fails the call and leaves
// the table untouched. Instances must come from New.
package binding

import (
	"github.com/pkg/errors"

	"github.com/llxisdsh/weakmap"
)

// ErrNotConstructed is returned by every method of a WeakValueMap that was
// not created by New, including a nil one.
var ErrNotConstructed = errors.New("binding: WeakValueMap cannot be used without New")

// WeakValueMap maps text-like keys to weakly held *V values.
type WeakValueMap[V any] struct {
	m *weakmap.Map[string, V]
}

// New returns an empty WeakValueMap.
func New[V any](options ...func(*weakmap.MapConfig)) *WeakValueMap[V] {
	return &WeakValueMap[V]{m: weakmap.New[string, V](options...)}
}

func (w *WeakValueMap[V]) resolve(key any) (*weakmap.Map[string, V], string, error) {
	if w == nil || w.m == nil {
		return nil, "", errors.WithStack(ErrNotConstructed)
	}
	k, err := KeyOf(key)
	if err != nil {
		return nil, "", err
	}
	return w.m, k, nil
}

// Size returns the number of entries currently filed.
func (w *WeakValueMap[V]) Size() (int, error) {
	if w == nil || w.m == nil {
		return 0, errors.WithStack(ErrNotConstructed)
	}
	return w.m.Size(), nil
}

// Has reports whether key holds a live value.
func (w *WeakValueMap[V]) Has(key any) (bool, error) {
	m, k, err := w.resolve(key)
	if err != nil {
		return false, err
	}
	return m.Has(k), nil
}

// Get returns the value under key, or nil if it is absent or collected.
func (w *WeakValueMap[V]) Get(key any) (*V, error) {
	m, k, err := w.resolve(key)
	if err != nil {
		return nil, err
	}
	v, _ := m.Get(k)
	return v, nil
}

// Set stores value under key and returns w for chaining. A nil value
// deletes key.
func (w *WeakValueMap[V]) Set(key any, value *V) (*WeakValueMap[V], error) {
	m, k, err := w.resolve(key)
	if err != nil {
		return w, err
	}
	m.Set(k, value)
	return w, nil
}

// Delete removes key and reports whether it held a live value.
func (w *WeakValueMap[V]) Delete(key any) (bool, error) {
	m, k, err := w.resolve(key)
	if err != nil {
		return false, err
	}
	return m.Delete(k), nil
}
